// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fel

import (
	"bytes"
	"errors"
	"testing"
)

func TestRunnerRun(t *testing.T) {
	m := newMockROM()
	stub := []byte{0x13, 0x00, 0x00, 0x00, 0x6f, 0x00, 0x00, 0x00}
	params := []byte{1, 2, 3, 4}
	// Emulate the stub: copy the parameter block into the result block and
	// store the completion magic into the status word.
	m.execHook = func(m *mockROM, addr uint32) {
		base := uint32(0x0002_1000)
		if addr != base {
			t.Errorf("exec at 0x%08x, want 0x%08x", addr, base)
		}
		statusAddr := base + uint32(len(stub))
		paramsAddr := statusAddr + 4
		resultAddr := paramsAddr + uint32(len(params))
		if got := m.peek(base, len(stub)); !bytes.Equal(got, stub) {
			t.Errorf("stub not in place: % x", got)
		}
		m.poke(resultAddr, m.peek(paramsAddr, len(params)))
		m.poke(statusAddr, []byte{
			byte(StubDone), byte(StubDone >> 8),
			byte(StubDone >> 16), byte(StubDone >> 24),
		})
	}
	c, err := newConn(m)
	if err != nil {
		t.Fatal(err)
	}
	res, err := NewRunner(c).Run(stub, params, len(params))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res, params) {
		t.Fatalf("got % x, want % x", res, params)
	}
}

func TestRunnerStubFault(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the whole poll ceiling")
	}
	m := newMockROM()
	c, err := newConn(m)
	if err != nil {
		t.Fatal(err)
	}
	// The hook never signals completion, so the poll ceiling must trip.
	_, err = NewRunner(c).Run([]byte{0x6f, 0, 0, 0}, nil, 0)
	if !errors.Is(err, ErrStubFault) {
		t.Fatalf("got %v, want ErrStubFault", err)
	}
}

func TestPayloadMissing(t *testing.T) {
	if _, err := Payload("nonexistent"); err == nil {
		t.Fatal("expected an error for an unknown payload")
	}
}
