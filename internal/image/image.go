// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package image builds flashable boot images: it flattens an ELF
// executable into a raw binary and wraps it in the eGON.BT0 header the
// Allwinner boot ROM looks for. The header layout is the boot ROM's
// contract; only its checksum and sizing rules live here.
package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnsupportedELF = errors.New("image: no loadable segments in ELF")
	ErrOverlap        = errors.New("image: overlapping loadable segments")
	ErrTooSmall       = errors.New("image: payload shorter than the boot header")
)

// A Segment is one loadable chunk of an ELF executable, addressed by its
// physical load address.
type Segment struct {
	Addr uint64
	Data []byte
}

// Segments extracts the loadable segments of an ELF executable, sorted by
// physical load address. Segments with no file data are skipped.
func Segments(elfBytes []byte) ([]Segment, error) {
	f, err := elf.NewFile(bytes.NewReader(elfBytes))
	if err != nil {
		return nil, fmt.Errorf("image: parse ELF: %w", err)
	}
	defer f.Close()

	var segs []Segment
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := p.ReadAt(data, 0); err != nil {
			return nil, fmt.Errorf("image: read segment: %w", err)
		}
		segs = append(segs, Segment{p.Paddr, data})
	}
	if len(segs) == 0 {
		return nil, ErrUnsupportedELF
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Addr < segs[j].Addr })
	return segs, nil
}

// Raw flattens the loadable segments of an ELF executable into one
// contiguous binary. Segments are placed at their physical load addresses
// relative to the lowest one; gaps between them are zero-filled. The
// returned base is that lowest load address.
func Raw(elfBytes []byte) (raw []byte, base uint32, err error) {
	segs, err := Segments(elfBytes)
	if err != nil {
		return nil, 0, err
	}
	lo := segs[0].Addr
	hi := lo
	for _, s := range segs {
		if s.Addr < hi {
			return nil, 0, ErrOverlap
		}
		hi = s.Addr + uint64(len(s.Data))
	}
	raw = make([]byte, hi-lo)
	for _, s := range segs {
		copy(raw[s.Addr-lo:], s.Data)
	}
	return raw, uint32(lo), nil
}

// eGON.BT0 header, consumed by the on-chip boot mechanism. Field offsets
// are fixed; the checksum is the little-endian 32-bit word sum over the
// whole padded image with the stamp value in place of the checksum field.
const (
	HeaderLen = 0x60

	offJump     = 0x00
	offMagic    = 0x04
	offChecksum = 0x0c
	offLength   = 0x10
	offHeadSize = 0x14
	offVersion  = 0x18
	offRetAddr  = 0x1c
	offRunAddr  = 0x20
	offPlatform = 0x28
	offPayload  = 0x58 // payload byte count, lets Strip recover it exactly

	stamp    = 0x5f0a6c39
	armJump  = 0x0600006f // RISC-V `j .+0x60`, over the header
	alignLen = 16 * 1024
)

var egonMagic = []byte("eGON.BT0")

// IsPatched reports whether b already starts with an eGON boot header.
func IsPatched(b []byte) bool {
	return len(b) >= HeaderLen && bytes.Equal(b[offMagic:offMagic+8], egonMagic)
}

// Patch wraps raw in an eGON.BT0 header with the given load address and
// returns the padded, checksummed image. An input that already carries a
// header is re-patched in place: the header fields are rebuilt and the
// checksum recomputed, never a second header prepended, so Patch is
// idempotent.
func Patch(raw []byte, loadAddr uint32) []byte {
	payload := raw
	if IsPatched(raw) {
		// Recover the exact payload recorded in the header; slicing the
		// header off alone would keep the alignment padding and grow the
		// image on every re-patch.
		if p, err := Strip(raw); err == nil {
			payload = p
		} else {
			payload = raw[HeaderLen:]
		}
	}
	total := alignUp(HeaderLen+len(payload), alignLen)
	img := make([]byte, total)
	copy(img[HeaderLen:], payload)

	le := binary.LittleEndian
	le.PutUint32(img[offJump:], armJump)
	copy(img[offMagic:], egonMagic)
	le.PutUint32(img[offChecksum:], stamp)
	le.PutUint32(img[offLength:], uint32(total))
	le.PutUint32(img[offHeadSize:], HeaderLen)
	copy(img[offVersion:], "3000")
	le.PutUint32(img[offRetAddr:], loadAddr)
	le.PutUint32(img[offRunAddr:], loadAddr)
	copy(img[offPlatform:], "\x00\x003.0.0\x00")
	le.PutUint32(img[offPayload:], uint32(len(payload)))

	le.PutUint32(img[offChecksum:], checksum(img))
	return img
}

// Strip returns the exact payload a Patch call wrapped, without header or
// padding. It fails on anything that does not carry the boot header.
func Strip(img []byte) ([]byte, error) {
	if !IsPatched(img) {
		return nil, ErrTooSmall
	}
	n := binary.LittleEndian.Uint32(img[offPayload:])
	if HeaderLen+int(n) > len(img) {
		return nil, errors.New("image: payload length field exceeds image")
	}
	return img[HeaderLen : HeaderLen+int(n)], nil
}

// Verify recomputes the checksum of a patched image.
func Verify(img []byte) error {
	if !IsPatched(img) || len(img)%4 != 0 {
		return errors.New("image: not a boot image")
	}
	le := binary.LittleEndian
	want := le.Uint32(img[offChecksum:])
	tmp := make([]byte, len(img))
	copy(tmp, img)
	le.PutUint32(tmp[offChecksum:], stamp)
	if got := checksum(tmp); got != want {
		return fmt.Errorf("image: bad checksum: 0x%08x != 0x%08x", got, want)
	}
	return nil
}

func checksum(img []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(img); i += 4 {
		sum += binary.LittleEndian.Uint32(img[i:])
	}
	return sum
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}
