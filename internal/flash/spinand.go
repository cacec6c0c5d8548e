// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"bytes"

	"github.com/embeddedgo/feltool/internal/spi"
)

// SPI NAND opcodes.
const (
	nandRDID        = 0x9f
	nandGetFeature  = 0x0f
	nandSetFeature  = 0x1f
	nandPageRead    = 0x13 // page to cache
	nandCacheRead   = 0x03 // cache to host
	nandWriteEnable = 0x06
	nandProgLoad    = 0x02
	nandProgExec    = 0x10
	nandBlockErase  = 0xd8
	nandReset       = 0xff
)

// Feature register addresses.
const (
	nandFeatProtect = 0xa0
	nandFeatStatus  = 0xc0
)

type nandChip struct {
	name       string
	id         []byte // matched as a prefix of the 4 RDID bytes
	pageSize   uint32
	oobSize    uint32
	pagesBlock uint32
	blocksDie  uint32
	dies       uint32
}

// Known SPI NAND parts. NAND identifiers are multi-byte with a
// manufacturer prefix; they are matched as prefixes because vendors extend
// them with plane/die fields.
var nandChips = []nandChip{
	{"W25N512GV", []byte{0xef, 0xaa, 0x20}, 2048, 64, 64, 512, 1},
	{"W25N01GV", []byte{0xef, 0xaa, 0x21}, 2048, 64, 64, 1024, 1},
	{"W25M02GV", []byte{0xef, 0xab, 0x21}, 2048, 64, 64, 1024, 2},
	{"W25N02KV", []byte{0xef, 0xaa, 0x22}, 2048, 128, 64, 2048, 1},
	{"GD5F1GQ4UAWxx", []byte{0xc8, 0x10}, 2048, 64, 64, 1024, 1},
	{"GD5F1GQ5UExxG", []byte{0xc8, 0x51}, 2048, 128, 64, 1024, 1},
	{"GD5F1GQ4UExIG", []byte{0xc8, 0xd1}, 2048, 128, 64, 1024, 1},
	{"GD5F2GQ4UExIG", []byte{0xc8, 0xd2}, 2048, 128, 64, 2048, 1},
	{"GD5F2GQ5UExxH", []byte{0xc8, 0x32}, 2048, 64, 64, 2048, 1},
	{"GD5F4GQ4UBxIG", []byte{0xc8, 0xd4}, 4096, 256, 64, 2048, 1},
}

func matchNAND(id []byte) *nandChip {
	for i := range nandChips {
		if bytes.HasPrefix(id, nandChips[i].id) {
			return &nandChips[i]
		}
	}
	return nil
}

func detectNAND(bus spi.Bus) (*Device, error) {
	// Two RDID forms are in the wild: with and without a dummy address
	// byte. Try both before giving up.
	var rx [4]byte
	if err := bus.Transfer([]byte{nandRDID, 0x00}, rx[:]); err != nil {
		return nil, err
	}
	chip := matchNAND(rx[:])
	if chip == nil {
		if err := bus.Transfer([]byte{nandRDID}, rx[:]); err != nil {
			return nil, err
		}
		chip = matchNAND(rx[:])
	}
	if chip == nil {
		return nil, errUnknownChip
	}
	d := &Device{
		Kind:      NAND,
		Name:      chip.name,
		ID:        append([]byte(nil), rx[:len(chip.id)]...),
		Capacity:  uint64(chip.pageSize) * uint64(chip.pagesBlock) * uint64(chip.blocksDie) * uint64(chip.dies),
		PageSize:  chip.pageSize,
		BlockSize: chip.pageSize * chip.pagesBlock,
		OOBSize:   chip.oobSize,
		bus:       bus,
	}
	return d, d.nandInit()
}

// nandInit resets the chip and clears the block protection bits so erase
// and program are not silently ignored.
func (d *Device) nandInit() error {
	if err := d.bus.Transfer([]byte{nandReset}, nil); err != nil {
		return err
	}
	if err := d.nandWaitReady(); err != nil {
		return err
	}
	protect, err := d.nandFeature(nandFeatProtect)
	if err != nil {
		return err
	}
	if protect != 0 {
		tx := []byte{nandSetFeature, nandFeatProtect, 0x00}
		if err := d.bus.Transfer(tx, nil); err != nil {
			return err
		}
		if err := d.nandWaitReady(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) nandFeature(reg uint8) (uint8, error) {
	var val [1]byte
	if err := d.bus.Transfer([]byte{nandGetFeature, reg}, val[:]); err != nil {
		return 0, err
	}
	return val[0], nil
}

func (d *Device) nandWaitReady() error {
	for i := 0; i < busyPollLimit; i++ {
		status, err := d.nandFeature(nandFeatStatus)
		if err != nil {
			return err
		}
		if status&0x01 == 0 {
			return nil
		}
	}
	return ErrTimeout
}

func rowAddr(op uint8, page uint32) []byte {
	return []byte{op, byte(page >> 16), byte(page >> 8), byte(page)}
}

// nandReadPage loads one page into the chip cache and streams the data
// region out. The out-of-band bytes that follow the data region in the
// cache are never transferred.
func (d *Device) nandReadPage(addr uint64, p []byte) error {
	page := uint32(addr / uint64(d.PageSize))
	column := uint16(addr % uint64(d.PageSize))
	if err := d.bus.Transfer(rowAddr(nandPageRead, page), nil); err != nil {
		return err
	}
	if err := d.nandWaitReady(); err != nil {
		return err
	}
	tx := []byte{nandCacheRead, byte(column >> 8), byte(column), 0x00}
	return d.bus.Transfer(tx, p)
}

// nandProgramPage loads data into the chip cache at the page column and
// commits the page. The caller never crosses a page boundary.
func (d *Device) nandProgramPage(addr uint64, data []byte) error {
	page := uint32(addr / uint64(d.PageSize))
	column := uint16(addr % uint64(d.PageSize))
	if err := d.bus.Transfer([]byte{nandWriteEnable}, nil); err != nil {
		return err
	}
	tx := make([]byte, 0, 3+len(data))
	tx = append(tx, nandProgLoad, byte(column>>8), byte(column))
	tx = append(tx, data...)
	if err := d.bus.Transfer(tx, nil); err != nil {
		return err
	}
	if err := d.bus.Transfer(rowAddr(nandProgExec, page), nil); err != nil {
		return err
	}
	return d.nandWaitReady()
}

// nandEraseBlock erases the block containing addr; addr is the
// block-aligned byte address, converted to the row address of its first
// page.
func (d *Device) nandEraseBlock(addr uint64) error {
	page := uint32(addr / uint64(d.PageSize))
	if err := d.bus.Transfer([]byte{nandWriteEnable}, nil); err != nil {
		return err
	}
	if err := d.nandWaitReady(); err != nil {
		return err
	}
	if err := d.bus.Transfer(rowAddr(nandBlockErase, page), nil); err != nil {
		return err
	}
	return d.nandWaitReady()
}
