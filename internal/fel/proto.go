// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fel

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// The boot ROM frames every transfer in an AWUC request and answers it with
// an AWUS status. FEL commands ride inside these transfers as fixed 16-byte
// records followed by an 8-byte command status.
const (
	awucLen      = 36
	awusLen      = 13
	felReqLen    = 16
	felStatusLen = 8
	versionLen   = 32
)

var (
	awucMagic    = []byte("AWUC\x00\x00\x00\x00")
	awusMagic    = []byte("AWUS\x00\x00\x00\x00\x00\x00\x00\x00\x00")
	versionMagic = []byte("AWUS\x00\x00\x00\x00")
)

const (
	transferRead  uint16 = 0x11
	transferWrite uint16 = 0x12
)

// FEL command codes.
const (
	reqGetVersion uint32 = 0x0001
	reqWriteRaw   uint32 = 0x0101
	reqExec       uint32 = 0x0102
	reqReadRaw    uint32 = 0x0103
)

// chunkSize is the maximum payload of a single FEL read or write transfer.
const chunkSize = 64 * 1024

func awucRequest(req uint16, length uint32) []byte {
	buf := make([]byte, 0, awucLen)
	buf = append(buf, awucMagic...)
	buf = binary.LittleEndian.AppendUint32(buf, length)
	buf = binary.LittleEndian.AppendUint32(buf, 0x0c000000)
	buf = binary.LittleEndian.AppendUint16(buf, req)
	buf = binary.LittleEndian.AppendUint32(buf, length)
	return buf[:awucLen]
}

func felRequest(req, addr, length uint32) []byte {
	buf := make([]byte, 0, felReqLen)
	buf = binary.LittleEndian.AppendUint32(buf, req)
	buf = binary.LittleEndian.AppendUint32(buf, addr)
	buf = binary.LittleEndian.AppendUint32(buf, length)
	return buf[:felReqLen]
}

// Version is the identity record the boot ROM returns for a version query.
type Version struct {
	ID         uint32 // SoC identifier
	Firmware   uint32
	Protocol   uint16
	DFlag      uint8
	DLength    uint8
	Scratchpad uint32 // SRAM address free for host-loaded code
}

func parseVersion(raw []byte) (v Version, err error) {
	if len(raw) != versionLen || !bytes.Equal(raw[:8], versionMagic) {
		return v, ErrProtocolMismatch
	}
	le := binary.LittleEndian
	v.ID = le.Uint32(raw[8:])
	v.Firmware = le.Uint32(raw[12:])
	v.Protocol = le.Uint16(raw[16:])
	v.DFlag = raw[18]
	v.DLength = raw[19]
	v.Scratchpad = le.Uint32(raw[20:])
	return v, nil
}

// SoC identifiers reported in the version record.
const (
	SocD1 uint32 = 0x00185900 // D1-H, D1s, F133
)

// ChipName returns a human readable name for the SoC identifier, or an
// empty string for an unknown chip.
func (v Version) ChipName() string {
	switch v.ID {
	case SocD1:
		return "D1/F133"
	}
	return ""
}

func (v Version) String() string {
	name := v.ChipName()
	if name == "" {
		name = fmt.Sprintf("unknown (0x%08x)", v.ID)
	}
	return fmt.Sprintf(
		"chip: %s, firmware: 0x%08x, protocol: 0x%04x, scratchpad: 0x%08x",
		name, v.Firmware, v.Protocol, v.Scratchpad,
	)
}
