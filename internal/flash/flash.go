// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package flash identifies and programs the SPI flash attached to an
// Allwinner SoC. NAND and NOR parts differ in geometry and command set;
// both hide behind one Device with uniform erase/program/read/verify
// operations. All geometry violations are rejected before any device I/O.
package flash

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/embeddedgo/feltool/internal/spi"
	"github.com/golang/glog"
)

type Kind uint8

const (
	NAND Kind = iota + 1
	NOR
)

func (k Kind) String() string {
	switch k {
	case NAND:
		return "SPI NAND"
	case NOR:
		return "SPI NOR"
	}
	return "unknown"
}

var (
	ErrNoFlash     = errors.New("flash: no SPI NAND or NOR flash detected")
	ErrMisaligned  = errors.New("flash: range not aligned to device geometry")
	ErrOutOfBounds = errors.New("flash: range exceeds device capacity")
	ErrTimeout     = errors.New("flash: device busy timeout")
)

// MismatchError reports the first offset at which a verify read-back
// differed from the written data.
type MismatchError struct {
	Offset uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("flash: verify mismatch at offset 0x%x", e.Offset)
}

// OffsetError wraps a program or read failure with the device offset at
// which the operation stopped, so a caller can resume from there. Nothing
// after the reported offset was touched.
type OffsetError struct {
	Offset uint64
	Err    error
}

func (e *OffsetError) Unwrap() error { return e.Err }

func (e *OffsetError) Error() string {
	return fmt.Sprintf("flash: failed at offset 0x%x: %v", e.Offset, e.Err)
}

// Device is a detected flash chip. Geometry is fixed at detection time; a
// power-cycled or replaced chip requires a fresh Detect. For NOR parts
// BlockSize is the erase sector size and OOBSize is zero.
type Device struct {
	Kind      Kind
	Name      string
	ID        []byte
	Capacity  uint64
	PageSize  uint32
	BlockSize uint32
	OOBSize   uint32

	// Progress, when set, is called with the number of bytes (or erased
	// bytes) completed after each chunk.
	Progress func(n int)

	bus     spi.Bus
	addrLen int  // NOR address width in bytes
	eraseOp byte // NOR erase opcode matching BlockSize
}

// busyPollLimit bounds every busy-wait on the chip status register. Each
// poll is itself a bounded helper round trip, so an unresponsive chip
// surfaces as ErrTimeout instead of a hang.
const busyPollLimit = 5000

func (d *Device) String() string {
	return fmt.Sprintf("%s %s, %d bytes (page %d, block %d)",
		d.Kind, d.Name, d.Capacity, d.PageSize, d.BlockSize)
}

// Detect probes the bus for a flash chip. The NAND probe runs first:
// SPI NAND identifiers are a superset-looking encoding that could also
// satisfy a NOR heuristic, so NAND wins ties by design. NOR parts are
// identified by their SFDP parameter tables when present, by JEDEC ID
// against the known-device table otherwise; all probes failing yields
// ErrNoFlash.
func Detect(bus spi.Bus) (*Device, error) {
	if d, err := detectNAND(bus); err == nil {
		glog.V(1).Infof("flash: detected %v", d)
		return d, nil
	} else if !errors.Is(err, errUnknownChip) {
		return nil, err
	}
	if d, err := detectNOR(bus); err == nil {
		glog.V(1).Infof("flash: detected %v", d)
		return d, nil
	} else if !errors.Is(err, errUnknownChip) {
		return nil, err
	}
	return nil, ErrNoFlash
}

var errUnknownChip = errors.New("flash: unknown chip id")

// checkRange validates bounds and, for erase/program, alignment. It runs
// before any device I/O so a bad range never touches the chip.
func (d *Device) checkRange(addr, length uint64, align uint32) error {
	if addr+length < addr || addr+length > d.Capacity {
		return ErrOutOfBounds
	}
	if align > 1 && (addr%uint64(align) != 0 || length%uint64(align) != 0) {
		return ErrMisaligned
	}
	return nil
}

func (d *Device) progress(n int) {
	if d.Progress != nil {
		d.Progress(n)
	}
}

// Erase erases the given range. The range must align to the erase
// granularity (NAND block, NOR sector); misalignment is a caller error and
// is never silently rounded, to avoid wiping adjacent data.
func (d *Device) Erase(addr, length uint64) error {
	if err := d.checkRange(addr, length, d.BlockSize); err != nil {
		return err
	}
	for off := uint64(0); off < length; off += uint64(d.BlockSize) {
		var err error
		switch d.Kind {
		case NAND:
			err = d.nandEraseBlock(addr + off)
		case NOR:
			err = d.norEraseSector(addr + off)
		}
		if err != nil {
			return &OffsetError{Offset: addr + off, Err: err}
		}
		d.progress(int(d.BlockSize))
	}
	return nil
}

// Program writes data at addr. NAND programming must start on a page
// boundary. Data is written in page-sized chunks; the first failing chunk
// aborts the whole call with its offset, there is no partial success.
func (d *Device) Program(addr uint64, data []byte) error {
	if err := d.checkRange(addr, uint64(len(data)), 1); err != nil {
		return err
	}
	if d.Kind == NAND && addr%uint64(d.PageSize) != 0 {
		return ErrMisaligned
	}
	for off := 0; off < len(data); {
		n := int(d.PageSize) - int((addr+uint64(off))%uint64(d.PageSize))
		if n > len(data)-off {
			n = len(data) - off
		}
		var err error
		switch d.Kind {
		case NAND:
			err = d.nandProgramPage(addr+uint64(off), data[off:off+n])
		case NOR:
			err = d.norProgramPage(addr+uint64(off), data[off:off+n])
		}
		if err != nil {
			return &OffsetError{Offset: addr + uint64(off), Err: err}
		}
		d.progress(n)
		off += n
	}
	return nil
}

// Read fills p from the flash starting at addr. For NAND only the usable
// data region of each page is returned, never the out-of-band bytes.
func (d *Device) Read(addr uint64, p []byte) error {
	if err := d.checkRange(addr, uint64(len(p)), 1); err != nil {
		return err
	}
	const norSpan = 64 * 1024
	for off := 0; off < len(p); {
		var n int
		var err error
		switch d.Kind {
		case NAND:
			// One page at a time: the page cache must be reloaded at
			// every page boundary.
			n = int(d.PageSize) - int((addr+uint64(off))%uint64(d.PageSize))
			if n > len(p)-off {
				n = len(p) - off
			}
			err = d.nandReadPage(addr+uint64(off), p[off:off+n])
		case NOR:
			n = min(len(p)-off, norSpan)
			err = d.norRead(addr+uint64(off), p[off:off+n])
		}
		if err != nil {
			return &OffsetError{Offset: addr + uint64(off), Err: err}
		}
		d.progress(n)
		off += n
	}
	return nil
}

// Verify reads back the range starting at addr and compares it byte for
// byte against data. The first difference is reported as a MismatchError
// with the absolute payload offset; it is never retried here, the caller
// decides whether to re-program.
func (d *Device) Verify(addr uint64, data []byte) error {
	const span = 64 * 1024
	buf := make([]byte, span)
	for off := 0; off < len(data); {
		n := min(len(data)-off, span)
		if err := d.Read(addr+uint64(off), buf[:n]); err != nil {
			return err
		}
		if !bytes.Equal(buf[:n], data[off:off+n]) {
			for i := 0; i < n; i++ {
				if buf[i] != data[off+i] {
					return &MismatchError{Offset: uint64(off + i)}
				}
			}
		}
		off += n
	}
	return nil
}
