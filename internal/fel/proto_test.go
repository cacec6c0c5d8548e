// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fel

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestAWUCRequest(t *testing.T) {
	got := awucRequest(transferWrite, 0x12345)
	want := make([]byte, awucLen)
	copy(want, "AWUC\x00\x00\x00\x00")
	binary.LittleEndian.PutUint32(want[8:], 0x12345)
	binary.LittleEndian.PutUint32(want[12:], 0x0c000000)
	binary.LittleEndian.PutUint16(want[16:], 0x12)
	binary.LittleEndian.PutUint32(want[18:], 0x12345)
	if !bytes.Equal(got, want) {
		t.Fatalf("got  %x\nwant %x", got, want)
	}
}

func TestFELRequest(t *testing.T) {
	got := felRequest(reqReadRaw, 0x0002_0000, 256)
	want := make([]byte, felReqLen)
	binary.LittleEndian.PutUint32(want[0:], 0x0103)
	binary.LittleEndian.PutUint32(want[4:], 0x0002_0000)
	binary.LittleEndian.PutUint32(want[8:], 256)
	if !bytes.Equal(got, want) {
		t.Fatalf("got  %x\nwant %x", got, want)
	}
}

func versionRecord(id, scratchpad uint32) []byte {
	raw := make([]byte, versionLen)
	copy(raw, versionMagic)
	le := binary.LittleEndian
	le.PutUint32(raw[8:], id)
	le.PutUint32(raw[12:], 0x0001_0001)
	le.PutUint16(raw[16:], 0x0001)
	raw[18] = 0x44
	raw[19] = 0x08
	le.PutUint32(raw[20:], scratchpad)
	return raw
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion(versionRecord(SocD1, 0x0002_1000))
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != SocD1 || v.Scratchpad != 0x0002_1000 {
		t.Fatalf("bad version: %+v", v)
	}
	if v.Firmware != 0x0001_0001 || v.Protocol != 1 {
		t.Fatalf("bad version: %+v", v)
	}
	if v.DFlag != 0x44 || v.DLength != 0x08 {
		t.Fatalf("bad version: %+v", v)
	}
	if v.ChipName() != "D1/F133" {
		t.Fatalf("bad chip name: %q", v.ChipName())
	}
}

func TestParseVersionBadMagic(t *testing.T) {
	raw := versionRecord(SocD1, 0)
	raw[0] = 'X'
	if _, err := parseVersion(raw); !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("got %v, want ErrProtocolMismatch", err)
	}
	if _, err := parseVersion(raw[:16]); !errors.Is(err, ErrProtocolMismatch) {
		t.Fatalf("got %v, want ErrProtocolMismatch", err)
	}
}

func TestUnknownChipName(t *testing.T) {
	v := Version{ID: 0xdeadbeef}
	if v.ChipName() != "" {
		t.Fatalf("unexpected name: %q", v.ChipName())
	}
	if s := v.String(); s == "" {
		t.Fatal("empty String()")
	}
}
