// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package spi talks to the SPI flash controller of an Allwinner SoC through
// a resident helper stub executed in FEL mode. The helper interprets a
// small command stream the host assembles in target memory; the host never
// touches controller registers itself.
package spi

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/embeddedgo/feltool/internal/fel"
	"github.com/golang/glog"
)

// Bus performs one chip-select cycle: tx is shifted out first, then rx is
// filled. Either may be nil. Implementations serialize calls.
type Bus interface {
	Transfer(tx, rx []byte) error
}

// Conn is the subset of a FEL session the helper driver uses.
type Conn interface {
	ReadMemory(addr uint32, p []byte) error
	WriteMemory(addr uint32, p []byte) error
	ReadWord(addr uint32) (uint32, error)
	WriteWord(addr, val uint32) error
	Exec(addr uint32) error
}

// Helper command stream opcodes, part of the stub calling convention.
const (
	cmdEnd      uint8 = 0x00
	cmdInit     uint8 = 0x01
	cmdSelect   uint8 = 0x02
	cmdDeselect uint8 = 0x03
	cmdFast     uint8 = 0x04
	cmdTxBuf    uint8 = 0x05
	cmdRxBuf    uint8 = 0x06
	cmdNORWait  uint8 = 0x07
	cmdNANDWait uint8 = 0x08
)

// Fixed D1 SRAM layout for the helper. The last word of the command buffer
// is the completion status the host polls after each run.
const (
	payloadBase uint32 = 0x0002_0000
	commandBase uint32 = 0x0002_1000
	commandLen         = 4096
	swapBase    uint32 = 0x0002_2000
	swapLen            = 64 * 1024
)

const statusAddr = commandBase + commandLen - 4
const maxCommands = commandLen - 4

const (
	pollLimit    = 1000
	pollInterval = time.Millisecond
)

var errCommandBuf = errors.New("spi: command stream exceeds the command buffer")

// Session is a live helper instance on the target. Begin loads the helper
// blob once; every Transfer after that only writes a fresh command stream
// and jumps to the resident code.
type Session struct {
	conn Conn
}

// Begin uploads the SPI helper and brings up the controller (clocks, pads,
// chip select). It fails if the helper blob is not embedded in this build.
func Begin(conn Conn) (*Session, error) {
	stub, err := fel.Payload("spi")
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("spi: loading helper at 0x%08x (%d bytes)", payloadBase, len(stub))
	if err := conn.WriteMemory(payloadBase, stub); err != nil {
		return nil, err
	}
	s := &Session{conn: conn}
	if err := s.run([]byte{cmdInit}); err != nil {
		return nil, err
	}
	return s, nil
}

// run executes one command stream on the resident helper and waits for the
// completion word, with an explicit poll ceiling.
func (s *Session) run(commands []byte) error {
	commands = append(commands, cmdEnd)
	if len(commands) > maxCommands {
		return errCommandBuf
	}
	if err := s.conn.WriteMemory(commandBase, commands); err != nil {
		return err
	}
	if err := s.conn.WriteWord(statusAddr, 0); err != nil {
		return err
	}
	if err := s.conn.Exec(payloadBase); err != nil {
		return err
	}
	for i := 0; i < pollLimit; i++ {
		w, err := s.conn.ReadWord(statusAddr)
		if err != nil {
			return err
		}
		if w == fel.StubDone {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return fel.ErrStubFault
}

func appendXfer(commands []byte, op uint8, addr uint32, n int) []byte {
	commands = append(commands, op)
	commands = binary.LittleEndian.AppendUint32(commands, addr)
	commands = binary.LittleEndian.AppendUint32(commands, uint32(n))
	return commands
}

// Transfer implements Bus. Payloads that fit the swap buffer go through in
// a single helper run; larger ones keep the chip selected across multiple
// runs and stream through the swap buffer chunk by chunk.
func (s *Session) Transfer(tx, rx []byte) error {
	if len(tx) <= swapLen && len(rx) <= swapLen {
		commands := []byte{cmdSelect}
		if len(tx) > 0 {
			if err := s.conn.WriteMemory(swapBase, tx); err != nil {
				return err
			}
			commands = appendXfer(commands, cmdTxBuf, swapBase, len(tx))
		}
		if len(rx) > 0 {
			commands = appendXfer(commands, cmdRxBuf, swapBase, len(rx))
		}
		commands = append(commands, cmdDeselect)
		if err := s.run(commands); err != nil {
			return err
		}
		if len(rx) > 0 {
			return s.conn.ReadMemory(swapBase, rx)
		}
		return nil
	}

	if err := s.run([]byte{cmdSelect}); err != nil {
		return err
	}
	for len(tx) > 0 {
		n := min(len(tx), swapLen)
		if err := s.conn.WriteMemory(swapBase, tx[:n]); err != nil {
			return err
		}
		if err := s.run(appendXfer(nil, cmdTxBuf, swapBase, n)); err != nil {
			return err
		}
		tx = tx[n:]
	}
	for len(rx) > 0 {
		n := min(len(rx), swapLen)
		if err := s.run(appendXfer(nil, cmdRxBuf, swapBase, n)); err != nil {
			return err
		}
		if err := s.conn.ReadMemory(swapBase, rx[:n]); err != nil {
			return err
		}
		rx = rx[n:]
	}
	return s.run([]byte{cmdDeselect})
}
