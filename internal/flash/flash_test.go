// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package flash

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
)

// simNOR simulates a SPI NOR chip behind the bus interface with real chip
// semantics: program only clears bits, erase sets a whole sector, program
// and erase demand a preceding write enable.
type simNOR struct {
	id   [3]byte
	sfdp []byte // SFDP address space, nil for parts without tables
	mem  []byte
	wren bool
	ops  int
}

func newSimNOR(id uint32, capacity int) *simNOR {
	c := &simNOR{
		id:  [3]byte{byte(id >> 16), byte(id >> 8), byte(id)},
		mem: make([]byte, capacity),
	}
	for i := range c.mem {
		c.mem[i] = 0xff
	}
	return c
}

func (c *simNOR) addr(tx []byte) int {
	return int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
}

func (c *simNOR) Transfer(tx, rx []byte) error {
	c.ops++
	switch op := tx[0]; op {
	case 0x9f:
		for i := range rx {
			if i < 3 {
				rx[i] = c.id[i]
			} else {
				rx[i] = 0
			}
		}
	case 0x5a:
		addr := c.addr(tx)
		for i := range rx {
			if addr+i < len(c.sfdp) {
				rx[i] = c.sfdp[addr+i]
			} else {
				rx[i] = 0
			}
		}
	case 0x05:
		rx[0] = 0 // never busy
	case 0x06:
		c.wren = true
	case 0x01, 0x66, 0x99, 0x98, 0xb7:
		// status write, reset, unlock, 4-byte mode
	case 0x03:
		copy(rx, c.mem[c.addr(tx):])
	case 0x02:
		if !c.wren {
			return errors.New("sim nor: program without write enable")
		}
		c.wren = false
		addr := c.addr(tx)
		data := tx[4:]
		if addr%256+len(data) > 256 {
			return fmt.Errorf("sim nor: program wraps the page: 0x%x+%d", addr, len(data))
		}
		for i, b := range data {
			c.mem[addr+i] &= b
		}
	case 0x20:
		if !c.wren {
			return errors.New("sim nor: erase without write enable")
		}
		c.wren = false
		addr := c.addr(tx)
		if addr%4096 != 0 {
			return fmt.Errorf("sim nor: erase of unaligned address 0x%x", addr)
		}
		for i := 0; i < 4096; i++ {
			c.mem[addr+i] = 0xff
		}
	default:
		return fmt.Errorf("sim nor: unknown opcode 0x%02x", op)
	}
	return nil
}

// simNAND simulates a SPI NAND chip: pages live behind an on-chip cache,
// programming goes through a load buffer and only clears bits.
type simNAND struct {
	id         [4]byte
	pageSize   int
	pagesBlock int
	pages      int
	mem        map[int][]byte
	cache      []byte
	load       []byte
	feat       map[byte]byte
	wren       bool
	ops        int
}

func newSimNAND() *simNAND {
	return &simNAND{
		id:         [4]byte{0xef, 0xaa, 0x21, 0x00}, // W25N01GV
		pageSize:   2048,
		pagesBlock: 64,
		pages:      64 * 1024,
		mem:        make(map[int][]byte),
		feat:       map[byte]byte{0xa0: 0x38}, // ships block-protected
	}
}

func (c *simNAND) page(n int) []byte {
	p, ok := c.mem[n]
	if !ok {
		p = bytes.Repeat([]byte{0xff}, c.pageSize)
		c.mem[n] = p
	}
	return p
}

func row(tx []byte) int {
	return int(tx[1])<<16 | int(tx[2])<<8 | int(tx[3])
}

func (c *simNAND) Transfer(tx, rx []byte) error {
	c.ops++
	switch op := tx[0]; op {
	case 0x9f:
		for i := range rx {
			if i < 4 {
				rx[i] = c.id[i]
			} else {
				rx[i] = 0
			}
		}
	case 0x0f:
		rx[0] = c.feat[tx[1]]
	case 0x1f:
		c.feat[tx[1]] = tx[2]
	case 0xff:
		c.wren = false
	case 0x06:
		c.wren = true
	case 0x13:
		c.cache = bytes.Clone(c.page(row(tx)))
	case 0x03:
		col := int(tx[1])<<8 | int(tx[2])
		copy(rx, c.cache[col:])
	case 0x02:
		col := int(tx[1])<<8 | int(tx[2])
		c.load = bytes.Repeat([]byte{0xff}, c.pageSize)
		copy(c.load[col:], tx[3:])
	case 0x10:
		if !c.wren {
			return errors.New("sim nand: program without write enable")
		}
		c.wren = false
		p := c.page(row(tx))
		for i := range p {
			p[i] &= c.load[i]
		}
	case 0xd8:
		if !c.wren {
			return errors.New("sim nand: erase without write enable")
		}
		c.wren = false
		page := row(tx)
		if page%c.pagesBlock != 0 {
			return fmt.Errorf("sim nand: erase of mid-block page %d", page)
		}
		for i := 0; i < c.pagesBlock; i++ {
			delete(c.mem, page+i)
		}
	default:
		return fmt.Errorf("sim nand: unknown opcode 0x%02x", op)
	}
	return nil
}

func pattern(n int, seed byte) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = seed + byte(i*13)
	}
	return p
}

func TestDetectNOR(t *testing.T) {
	bus := newSimNOR(0xefc018, 16*1024*1024)
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != NOR || d.Name != "W25Q128JVEIQ" {
		t.Fatalf("detected %v", d)
	}
	if d.Capacity != 16*1024*1024 || d.PageSize != 256 || d.BlockSize != 4096 {
		t.Fatalf("bad geometry: %v", d)
	}
	// A second probe of the unchanged chip reports the same device.
	d2, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	if d2.Kind != d.Kind || d2.Name != d.Name || d2.Capacity != d.Capacity {
		t.Fatalf("detection not deterministic: %v then %v", d, d2)
	}
	if !bytes.Equal(d2.ID, d.ID) {
		t.Fatalf("id changed: % x then % x", d.ID, d2.ID)
	}
}

// sfdpSpace builds an SFDP address space describing a 16 MiB part with
// 4 KiB sectors and 256 byte pages.
func sfdpSpace() []byte {
	le := binary.LittleEndian
	s := make([]byte, 0x30+64)
	copy(s, "SFDP")
	s[4] = 6 // minor revision
	s[5] = 1 // major revision
	s[6] = 0 // one parameter header
	// Basic flash parameter header: table at 0x30, 16 dwords.
	s[9] = 6
	s[10] = 1
	s[11] = 16
	s[12] = 0x30
	s[15] = 0xff
	tab := s[0x30:]
	le.PutUint32(tab[0:], 1|0x20<<8) // 4 KiB erase, opcode 0x20
	le.PutUint32(tab[4:], 16*1024*1024*8-1)
	le.PutUint32(tab[28:], 12|0x20<<8|(16|0xd8<<8)<<16)
	le.PutUint32(tab[40:], 8<<4) // 256 byte page program
	return s
}

func TestDetectNORSFDP(t *testing.T) {
	// The JEDEC ID is listed nowhere; the chip describes itself.
	bus := newSimNOR(0x123456, 16*1024*1024)
	bus.sfdp = sfdpSpace()
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != NOR || d.Name != "SFDP" {
		t.Fatalf("detected %v", d)
	}
	if d.Capacity != 16*1024*1024 || d.PageSize != 256 || d.BlockSize != 4096 {
		t.Fatalf("bad geometry: %v", d)
	}
	// The discovered geometry drives real device I/O.
	data := pattern(700, 3)
	if err := d.Erase(4096, 4096); err != nil {
		t.Fatal(err)
	}
	if err := d.Program(4096, data); err != nil {
		t.Fatal(err)
	}
	if err := d.Verify(4096, data); err != nil {
		t.Fatal(err)
	}
}

func TestDetectNAND(t *testing.T) {
	bus := newSimNAND()
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	if d.Kind != NAND || d.Name != "W25N01GV" {
		t.Fatalf("detected %v", d)
	}
	if d.Capacity != 128*1024*1024 || d.PageSize != 2048 {
		t.Fatalf("bad geometry: %v", d)
	}
	if d.BlockSize != 128*1024 || d.OOBSize != 64 {
		t.Fatalf("bad geometry: %v", d)
	}
	// Detection must have cleared the block protection bits.
	if bus.feat[0xa0] != 0 {
		t.Fatalf("protection not lifted: 0x%02x", bus.feat[0xa0])
	}
}

func TestDetectNone(t *testing.T) {
	bus := newSimNOR(0x000000, 1024)
	bus.id = [3]byte{}
	if _, err := Detect(bus); !errors.Is(err, ErrNoFlash) {
		t.Fatalf("got %v, want ErrNoFlash", err)
	}
}

func TestNOREraseProgramReadVerify(t *testing.T) {
	bus := newSimNOR(0xefc018, 16*1024*1024)
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Erase(4096, 2*4096); err != nil {
		t.Fatal(err)
	}
	// Unaligned start and a length crossing many page boundaries.
	data := pattern(5000, 1)
	const addr = 4196
	if err := d.Program(addr, data); err != nil {
		t.Fatal(err)
	}
	back := make([]byte, len(data))
	if err := d.Read(addr, back); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("read back data differs")
	}
	if err := d.Verify(addr, data); err != nil {
		t.Fatal(err)
	}
	// Clear one programmed bit and expect its exact payload offset.
	bus.mem[addr+1234] &= 0x7f
	if bus.mem[addr+1234] == data[1234] {
		bus.mem[addr+1234] &= 0x3f
	}
	var mm *MismatchError
	if err := d.Verify(addr, data); !errors.As(err, &mm) {
		t.Fatalf("got %v, want a MismatchError", err)
	} else if mm.Offset != 1234 {
		t.Fatalf("mismatch at %d, want 1234", mm.Offset)
	}
}

func TestNORLargeRead(t *testing.T) {
	bus := newSimNOR(0xefc018, 16*1024*1024)
	for i := range bus.mem {
		bus.mem[i] = byte(i * 31)
	}
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 0x10000)
	if err := d.Read(0, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, bus.mem[:0x10000]) {
		t.Fatal("read content differs")
	}
}

func TestNANDEraseProgramRead(t *testing.T) {
	bus := newSimNAND()
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	block := uint64(d.BlockSize)
	if err := d.Erase(block, 2*block); err != nil {
		t.Fatal(err)
	}
	data := pattern(3*int(d.PageSize)+123, 9)
	if err := d.Program(block, data); err != nil {
		t.Fatal(err)
	}
	back := make([]byte, len(data))
	if err := d.Read(block, back); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, data) {
		t.Fatal("read back data differs")
	}
	if err := d.Verify(block, data); err != nil {
		t.Fatal(err)
	}
}

func TestNANDProgramAlignment(t *testing.T) {
	bus := newSimNAND()
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	ops := bus.ops
	err = d.Program(100, pattern(16, 0))
	if !errors.Is(err, ErrMisaligned) {
		t.Fatalf("got %v, want ErrMisaligned", err)
	}
	if bus.ops != ops {
		t.Fatal("misaligned program touched the bus")
	}
}

func TestRangeChecks(t *testing.T) {
	bus := newSimNOR(0xc84011, 128*1024) // GD25D10B
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	// The very last bytes of the device are in range.
	if err := d.Read(d.Capacity-16, make([]byte, 16)); err != nil {
		t.Fatal(err)
	}
	if err := d.Read(d.Capacity-15, make([]byte, 16)); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("got %v, want ErrOutOfBounds", err)
	}
	// Offset arithmetic must not wrap around.
	if err := d.Read(^uint64(0)-7, make([]byte, 16)); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("got %v, want ErrOutOfBounds", err)
	}
	ops := bus.ops
	if err := d.Erase(100, 4096); !errors.Is(err, ErrMisaligned) {
		t.Fatalf("got %v, want ErrMisaligned", err)
	}
	if err := d.Erase(0, 100); !errors.Is(err, ErrMisaligned) {
		t.Fatalf("got %v, want ErrMisaligned", err)
	}
	if bus.ops != ops {
		t.Fatal("rejected ranges touched the bus")
	}
}

func TestProgress(t *testing.T) {
	bus := newSimNOR(0xefc018, 16*1024*1024)
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	d.Progress = func(n int) { total += n }
	data := pattern(3000, 5)
	if err := d.Program(8192, data); err != nil {
		t.Fatal(err)
	}
	if total != len(data) {
		t.Fatalf("progress reported %d bytes, want %d", total, len(data))
	}
	total = 0
	if err := d.Erase(0, 3*4096); err != nil {
		t.Fatal(err)
	}
	if total != 3*4096 {
		t.Fatalf("progress reported %d bytes, want %d", total, 3*4096)
	}
}

// bootImage builds an eGON-headed image of n bytes whose header length
// field covers the whole image, the shape the boot ROM loader expects.
func bootImage(n int) []byte {
	img := pattern(n, 0x11)
	copy(img[4:], "eGON.BT0")
	binary.LittleEndian.PutUint32(img[16:], uint32(n))
	return img
}

func TestProgramSPLScatter(t *testing.T) {
	bus := newSimNAND()
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	const split = 1024
	img := bootImage(32 * 1024)
	if err := d.ProgramSPL(0, img, split); err != nil {
		t.Fatal(err)
	}
	// Every page holds the next split bytes of the image in its first
	// split bytes; the rest of the page stays erased.
	page := make([]byte, d.PageSize)
	for off := 0; off < len(img); off += split {
		if err := d.Read(uint64(off/split)*uint64(d.PageSize), page); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(page[:split], img[off:off+split]) {
			t.Fatalf("page %d does not hold image bytes %d..%d", off/split, off, off+split)
		}
		for i := split; i < len(page); i++ {
			if page[i] != 0xff {
				t.Fatalf("page %d byte %d written outside the split area", off/split, i)
			}
		}
	}
}

func TestProgramSPLReplicated(t *testing.T) {
	bus := newSimNAND()
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	const split = 1024
	img := bootImage(32 * 1024)
	// The scattered image occupies one 128 KiB block; an address two
	// blocks in asks for two scattered copies and a full linear copy.
	scattered := uint64(2*len(img)) + uint64(d.BlockSize)
	scattered &^= uint64(d.BlockSize) - 1
	addr := 2 * scattered
	if err := d.ProgramSPL(addr, img, split); err != nil {
		t.Fatal(err)
	}
	chunk := make([]byte, split)
	for _, base := range []uint64{0, scattered} {
		if err := d.Read(base, chunk); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(chunk, img[:split]) {
			t.Fatalf("no scattered copy at 0x%x", base)
		}
	}
	back := make([]byte, len(img))
	if err := d.Read(addr, back); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(back, img) {
		t.Fatal("no linear copy at the requested address")
	}
}

func TestProgramSPLRejects(t *testing.T) {
	bus := newSimNAND()
	d, err := Detect(bus)
	if err != nil {
		t.Fatal(err)
	}
	img := bootImage(16 * 1024)
	ops := bus.ops
	raw := pattern(16*1024, 0x11)
	if err := d.ProgramSPL(0, raw, 1024); !errors.Is(err, ErrNotBootImage) {
		t.Fatalf("got %v, want ErrNotBootImage", err)
	}
	if err := d.ProgramSPL(0, img, 1536); !errors.Is(err, ErrBadSplit) {
		t.Fatalf("got %v, want ErrBadSplit", err)
	}
	short := bootImage(16 * 1024)
	binary.LittleEndian.PutUint32(short[16:], uint32(len(short)+1))
	if err := d.ProgramSPL(0, short, 1024); err == nil {
		t.Fatal("oversized header length accepted")
	}
	if bus.ops != ops {
		t.Fatal("rejected images touched the bus")
	}

	norBus := newSimNOR(0xefc018, 16*1024*1024)
	nor, err := Detect(norBus)
	if err != nil {
		t.Fatal(err)
	}
	if err := nor.ProgramSPL(0, img, 1024); err == nil {
		t.Fatal("scattering accepted on a NOR part")
	}
}
