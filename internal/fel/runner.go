// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fel

import (
	"embed"
	"errors"
	"time"

	"github.com/golang/glog"
)

// Stub blobs are position-independent machine code built out of tree and
// dropped into payloads/ before release builds. An empty blob means the
// asset was not provided; the runner refuses to execute it instead of
// jumping into garbage.
//
//go:embed payloads/*.bin
var payloads embed.FS

// Payload returns the embedded stub blob with the given name (for example
// "read32"). It fails if the blob is absent or empty.
func Payload(name string) ([]byte, error) {
	b, err := payloads.ReadFile("payloads/" + name + ".bin")
	if err != nil {
		return nil, errors.New("no such payload: " + name)
	}
	if len(b) == 0 {
		return nil, errors.New("payload " + name + " missing: drop the blob into internal/fel/payloads/" + name + ".bin")
	}
	return b, nil
}

// StubDone is the stub completion magic: the host zeroes a status word
// before the jump and the stub stores StubDone there as its last action.
const StubDone uint32 = 0x444f4e45

const (
	pollLimit    = 200
	pollInterval = 5 * time.Millisecond
)

// Runner executes stub routines on the target. The memory layout at the
// scratchpad address reported by the boot ROM is, in order: the stub code,
// a 32-bit status word, the parameter block and the result block. The stub
// finds its parameters relative to its own end and must store StubDone into
// the status word when finished; the host polls that word because FEL has
// no completion channel back from the target.
type Runner struct {
	conn *Conn
}

func NewRunner(conn *Conn) *Runner {
	return &Runner{conn: conn}
}

// Run uploads stub and params, executes the stub and returns resultLen
// bytes of result block once the stub signals completion. Exceeding the
// poll ceiling yields ErrStubFault: the stub either crashed or never ran.
func (r *Runner) Run(stub, params []byte, resultLen int) (res []byte, err error) {
	defer wrapErr("Run", &err)
	base := r.conn.Version().Scratchpad
	statusAddr := base + uint32(len(stub))
	paramsAddr := statusAddr + 4
	resultAddr := paramsAddr + uint32(len(params))
	glog.V(1).Infof("fel: stub run: base=0x%08x code=%d params=%d result=%d",
		base, len(stub), len(params), resultLen)

	if err = r.conn.WriteMemory(base, stub); err != nil {
		return nil, err
	}
	if err = r.conn.WriteWord(statusAddr, 0); err != nil {
		return nil, err
	}
	if len(params) > 0 {
		if err = r.conn.WriteMemory(paramsAddr, params); err != nil {
			return nil, err
		}
	}
	if err = r.conn.Exec(base); err != nil {
		return nil, err
	}
	if err = r.await(statusAddr); err != nil {
		return nil, err
	}
	if resultLen == 0 {
		return nil, nil
	}
	res = make([]byte, resultLen)
	if err = r.conn.ReadMemory(resultAddr, res); err != nil {
		return nil, err
	}
	return res, nil
}

// await polls the status word until the stub stores the completion magic.
// The loop carries an explicit ceiling; there is no unbounded wait anywhere
// in a session.
func (r *Runner) await(statusAddr uint32) error {
	for i := 0; i < pollLimit; i++ {
		w, err := r.conn.ReadWord(statusAddr)
		if err != nil {
			return err
		}
		if w == StubDone {
			return nil
		}
		time.Sleep(pollInterval)
	}
	return ErrStubFault
}

// ReadReg reads a 32-bit MMIO register through the read32 stub. Plain FEL
// memory reads go through the boot ROM data path and cannot touch all
// peripheral registers; the stub performs a native load on the target.
func (r *Runner) ReadReg(addr uint32) (uint32, error) {
	stub, err := Payload("read32")
	if err != nil {
		return 0, err
	}
	params := [4]byte{byte(addr), byte(addr >> 8), byte(addr >> 16), byte(addr >> 24)}
	out, err := r.Run(stub, params[:], 4)
	if err != nil {
		return 0, err
	}
	return uint32(out[0]) | uint32(out[1])<<8 | uint32(out[2])<<16 | uint32(out[3])<<24, nil
}

// WriteReg writes a 32-bit MMIO register through the write32 stub.
func (r *Runner) WriteReg(addr, val uint32) error {
	stub, err := Payload("write32")
	if err != nil {
		return err
	}
	var params [8]byte
	for i := 0; i < 4; i++ {
		params[i] = byte(addr >> (8 * i))
		params[4+i] = byte(val >> (8 * i))
	}
	_, err = r.Run(stub, params[:], 0)
	return err
}
