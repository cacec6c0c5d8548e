// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var (
	ErrNotBootImage = errors.New("flash: missing eGON.BT0 boot header")
	ErrBadSplit     = errors.New("flash: split size must align to 1 KiB")
)

var egonMagic = []byte("eGON.BT0")

// ProgramSPL writes an eGON boot image the way the NAND boot ROM expects
// to find it: the ROM reads only the first split bytes of every page, so
// the image is scattered split bytes per page stride starting at offset 0.
// When addr lies beyond the scattered image, the scattered copies are
// repeated up to addr and one full linear copy is placed there for a later
// stage to load. The affected range is erased first; split 0 means one
// whole page per page.
func (d *Device) ProgramSPL(addr uint64, data []byte, split uint32) error {
	if d.Kind != NAND {
		return errors.New("flash: SPL scattering applies to SPI NAND only")
	}
	if split == 0 || split > d.PageSize {
		split = d.PageSize
	}
	if split&0x3ff != 0 {
		return ErrBadSplit
	}
	if len(data) < 20 || !bytes.Equal(data[4:12], egonMagic) {
		return ErrNotBootImage
	}
	splsz := binary.LittleEndian.Uint32(data[16:])
	if int64(splsz) > int64(len(data)) {
		return errors.New("flash: boot header length exceeds the image")
	}

	page := uint64(d.PageSize)
	block := uint64(d.BlockSize)
	emask := block - 1
	// Size of the scattered image, rounded up past the next block.
	tsplsz := (uint64(splsz)*page/uint64(split) + block) &^ emask

	var buf []byte
	if addr >= tsplsz {
		copies := 0
		total := uint64(0)
		for total < addr {
			total += tsplsz
			copies++
		}
		total += uint64(len(data))
		buf = bytes.Repeat([]byte{0xff}, int(total))
		scatterSPL(buf, data[:splsz], split, page)
		for i := 1; i < copies; i++ {
			copy(buf[uint64(i)*tsplsz:], buf[:tsplsz])
		}
		copy(buf[total-uint64(len(data)):], data)
	} else {
		buf = bytes.Repeat([]byte{0xff}, int(tsplsz))
		scatterSPL(buf, data[:splsz], split, page)
	}

	eraseLen := (uint64(len(buf)) + emask) &^ emask
	if err := d.checkRange(0, eraseLen, d.BlockSize); err != nil {
		return err
	}
	if err := d.Erase(0, eraseLen); err != nil {
		return err
	}
	return d.Program(0, buf)
}

// scatterSPL lays src out split bytes at a time, one chunk per page stride.
func scatterSPL(dst, src []byte, split uint32, page uint64) {
	for srcOff, dstOff := 0, uint64(0); srcOff < len(src); dstOff += page {
		n := min(int(split), len(src)-srcOff)
		copy(dst[dstOff:], src[srcOff:srcOff+n])
		srcOff += n
	}
}
