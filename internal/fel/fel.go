// Copyright 2026 The Embedded Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fel drives an Allwinner SoC running its boot ROM in FEL mode over
// USB. The boot ROM exposes raw memory read/write/execute commands; this
// package turns them into a serialized request/response session and a stub
// runner for small routines executed on the target.
package fel

import (
	"errors"
	"sync"

	"github.com/golang/glog"
)

// USB identity of an Allwinner SoC in FEL mode.
const (
	VendorAllwinner = 0x1f3a
	ProductFEL      = 0xefe8
)

var (
	ErrDeviceNotFound   = errors.New("no FEL device found")
	ErrPermissionDenied = errors.New("no permission to open FEL device")
	ErrProtocolMismatch = errors.New("unexpected response from boot ROM")
	ErrSessionFaulted   = errors.New("session faulted, reopen the device")
	ErrTimeout          = errors.New("transfer timed out")
	ErrTransport        = errors.New("transport error")
	ErrStubFault        = errors.New("stub did not signal completion")
)

type Error struct {
	Op  string
	Err error
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	return "fel: " + e.Op + ": " + e.Err.Error()
}

func wrapErr(op string, err *error) {
	if *err != nil {
		*err = &Error{op, *err}
	}
}

// transport is the raw bulk pipe to the device. It frames nothing and knows
// nothing about the protocol.
type transport interface {
	// send writes the whole buffer to the bulk OUT endpoint.
	send(p []byte) error
	// recv fills the whole buffer from the bulk IN endpoint.
	recv(p []byte) error
	close() error
}

type state uint8

const (
	disconnected state = iota
	handshaking
	ready
	faulted
)

// commandRetries bounds the number of attempts for a timed out command. The
// boot ROM answers near-instantly, so there is no backoff: a repeated
// timeout means a dead link, not congestion.
const commandRetries = 3

// Conn is a FEL session. All commands are serialized: the link is
// half-duplex with exactly one outstanding command, so concurrent callers
// queue on an internal mutex. A transport error faults the session
// permanently; a faulted session rejects every command with
// ErrSessionFaulted and must be reopened.
type Conn struct {
	mu      sync.Mutex
	tr      transport
	state   state
	version Version
}

// Connect opens the single FEL device on the bus and performs the version
// handshake. An absent device yields ErrDeviceNotFound; a device that is
// present but cannot be opened yields ErrPermissionDenied. The busAddr
// string may name a concrete device as BUS:DEV.
func Connect(busAddr string) (c *Conn, err error) {
	defer wrapErr("Connect", &err)
	tr, err := openUSB(busAddr)
	if err != nil {
		return nil, err
	}
	c, err = newConn(tr)
	if err != nil {
		tr.close()
		return nil, err
	}
	return c, nil
}

func newConn(tr transport) (*Conn, error) {
	c := &Conn{tr: tr, state: handshaking}
	if err := c.handshake(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Conn) handshake() error {
	var raw [versionLen]byte
	err := c.command(reqGetVersion, 0, 0, nil, raw[:])
	if err != nil {
		return err
	}
	v, err := parseVersion(raw[:])
	if err != nil {
		c.state = faulted
		return err
	}
	glog.V(1).Infof("fel: handshake: %v", v)
	c.version = v
	c.state = ready
	return nil
}

// Close releases the device. The session is unusable afterwards.
func (c *Conn) Close() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = disconnected
	err = c.tr.close()
	wrapErr("Close", &err)
	return
}

// Version returns the identity record obtained during the handshake.
func (c *Conn) Version() Version {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// ReadMemory fills p from target memory starting at addr. Transfers larger
// than the maximum transfer unit are split into sequential chunks; the
// protocol has no reordering, so reassembly order is the request order.
func (c *Conn) ReadMemory(addr uint32, p []byte) (err error) {
	defer wrapErr("ReadMemory", &err)
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(p) > 0 {
		n := min(len(p), chunkSize)
		err = c.command(reqReadRaw, addr, uint32(n), nil, p[:n])
		if err != nil {
			return err
		}
		addr += uint32(n)
		p = p[n:]
	}
	return nil
}

// WriteMemory writes p to target memory starting at addr. Each chunk is
// acknowledged before the next is sent; the boot ROM processes one command
// at a time.
func (c *Conn) WriteMemory(addr uint32, p []byte) (err error) {
	defer wrapErr("WriteMemory", &err)
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(p) > 0 {
		n := min(len(p), chunkSize)
		err = c.command(reqWriteRaw, addr, uint32(n), p[:n], nil)
		if err != nil {
			return err
		}
		addr += uint32(n)
		p = p[n:]
	}
	return nil
}

// ReadWord reads a little-endian 32-bit word from target memory.
func (c *Conn) ReadWord(addr uint32) (uint32, error) {
	var buf [4]byte
	if err := c.ReadMemory(addr, buf[:]); err != nil {
		return 0, err
	}
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24, nil
}

// WriteWord writes a little-endian 32-bit word to target memory.
func (c *Conn) WriteWord(addr, val uint32) error {
	buf := [4]byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)}
	return c.WriteMemory(addr, buf[:])
}

// Exec makes the target jump to addr. The call returns as soon as the boot
// ROM acknowledges the command; it does not wait for the executed code to
// finish. Callers observe completion by polling a memory location the
// uploaded code writes, see Runner.
func (c *Conn) Exec(addr uint32) (err error) {
	defer wrapErr("Exec", &err)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.command(reqExec, addr, 0, nil, nil)
}

// command performs one FEL command round trip: request record, optional
// data phase, command status. Timeouts are retried a bounded number of
// times; any other transport error faults the session. The caller must hold
// c.mu.
func (c *Conn) command(req, addr, length uint32, out []byte, in []byte) error {
	if c.state == faulted {
		return ErrSessionFaulted
	}
	if c.state == disconnected {
		return ErrTransport
	}
	var err error
	for attempt := 0; attempt < commandRetries; attempt++ {
		if attempt > 0 {
			glog.V(1).Infof("fel: retrying command 0x%03x after timeout", req)
		}
		err = c.roundTrip(req, addr, length, out, in)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrTimeout) {
			c.state = faulted
			return err
		}
	}
	c.state = faulted
	return err
}

func (c *Conn) roundTrip(req, addr, length uint32, out, in []byte) error {
	glog.V(2).Infof("fel: command 0x%03x addr=0x%08x len=%d", req, addr, length)
	if err := c.usbWrite(felRequest(req, addr, length)); err != nil {
		return err
	}
	if len(out) > 0 {
		if err := c.usbWrite(out); err != nil {
			return err
		}
	}
	if len(in) > 0 {
		if err := c.usbRead(in); err != nil {
			return err
		}
	}
	var status [felStatusLen]byte
	return c.usbRead(status[:])
}

// usbWrite performs one AWUC-framed write: transfer request, payload,
// transfer status.
func (c *Conn) usbWrite(p []byte) error {
	if err := c.tr.send(awucRequest(transferWrite, uint32(len(p)))); err != nil {
		return err
	}
	if err := c.tr.send(p); err != nil {
		return err
	}
	return c.readAWUS()
}

// usbRead performs one AWUC-framed read: transfer request, payload,
// transfer status.
func (c *Conn) usbRead(p []byte) error {
	if err := c.tr.send(awucRequest(transferRead, uint32(len(p)))); err != nil {
		return err
	}
	if err := c.tr.recv(p); err != nil {
		return err
	}
	return c.readAWUS()
}

func (c *Conn) readAWUS() error {
	var status [awusLen]byte
	if err := c.tr.recv(status[:]); err != nil {
		return err
	}
	for i, b := range awusMagic {
		if status[i] != b {
			return ErrProtocolMismatch
		}
	}
	return nil
}
