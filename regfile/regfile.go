// Package regfile models the host-visible register bank of the peripheral:
// the 32-bit word registers a bus adapter maps onto the core's per-tick
// inputs and outputs.
package regfile

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tinysil/upt/core"
	"github.com/tinysil/upt/entropy"
)

// Register word addresses.
const (
	RegControl     = 0x00
	RegReadout     = 0x01
	RegCalibCycles = 0x02
	RegSeed0       = 0x03
	RegSeed1       = 0x04
	RegMask0       = 0x05
	RegMask1       = 0x06
	RegSel1Lo      = 0x07 // I1
	RegSel1Hi      = 0x08
	RegSel2Lo      = 0x09 // I2
	RegSel2Hi      = 0x0A
	RegTrigger0    = 0x0B
	RegTrigger1    = 0x0C

	RegStatus    = 0x0D
	RegSample0   = 0x0E
	RegSample1   = 0x0F
	RegCaptured0 = 0x10
	RegCaptured1 = 0x11
	RegState0    = 0x12 // raw ring state, diagnostic
	RegState1    = 0x13

	regCount = RegState1 + 1
)

// CONTROL register bits.
const (
	CtrlReset  uint32 = 1 << 0
	CtrlMode   uint32 = 1 << 1 // 0 = TRNG, 1 = PUF
	CtrlEnable uint32 = 1 << 2
	CtrlInit   uint32 = 1 << 3
	CtrlCalib  uint32 = 1 << 4
)

// READOUT and STATUS register bits.
const (
	ReadRequest uint32 = 1 << 0
	StatusReady uint32 = 1 << 0
)

// highMask trims the high word of a 50-bit vector pair to its 18 live bits.
const highMask = uint32(1<<(entropy.Channels-32)) - 1

// ErrUnknownRegister is returned for reads and writes outside the map.
var ErrUnknownRegister = errors.New("unknown register")

// ErrReadOnlyRegister is returned for writes to the status/output region.
var ErrReadOnlyRegister = errors.New("read-only register")

// Bank is the register file wrapped around one core. Writes land in the
// writable registers; Step assembles one input bundle from them, ticks the
// core and latches its outputs into the read-only registers. Bank is safe
// for concurrent host access against a running clock.
type Bank struct {
	mu    sync.Mutex
	core  *core.Core
	regs  [regCount]uint32
	ticks uint64
}

// New creates a register bank around the given core. All registers start
// at zero; the peripheral is disabled until CtrlEnable is written.
func New(c *core.Core) *Bank {
	return &Bank{core: c}
}

// Write stores value into a writable register.
func (b *Bank) Write(addr int, value uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch addr {
	case RegControl, RegReadout, RegCalibCycles, RegSeed0, RegSeed1,
		RegMask0, RegSel1Lo, RegSel2Lo, RegTrigger0:
		b.regs[addr] = value
	case RegMask1, RegSel1Hi, RegSel2Hi, RegTrigger1:
		b.regs[addr] = value & highMask
	case RegStatus, RegSample0, RegSample1,
		RegCaptured0, RegCaptured1, RegState0, RegState1:
		return fmt.Errorf("%w: %#x", ErrReadOnlyRegister, addr)
	default:
		return fmt.Errorf("%w: %#x", ErrUnknownRegister, addr)
	}
	return nil
}

// Read returns the current value of any mapped register.
func (b *Bank) Read(addr int) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if addr < 0 || addr >= regCount {
		return 0, fmt.Errorf("%w: %#x", ErrUnknownRegister, addr)
	}
	return b.regs[addr], nil
}

// Ticks returns the number of clock cycles stepped so far.
func (b *Bank) Ticks() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ticks
}

func (b *Bank) vector(lo, hi int) uint64 {
	return uint64(b.regs[hi])<<32 | uint64(b.regs[lo])
}

// Step advances the peripheral by one clock cycle using the current
// register values and latches the outputs.
func (b *Bank) Step() core.Outputs {
	b.mu.Lock()
	defer b.mu.Unlock()

	ctrl := b.regs[RegControl]
	mode := entropy.TRNG
	if ctrl&CtrlMode != 0 {
		mode = entropy.PUF
	}

	out := b.core.Tick(core.Inputs{
		Mode:        mode,
		Trigger:     b.vector(RegTrigger0, RegTrigger1),
		Sel1:        b.vector(RegSel1Lo, RegSel1Hi),
		Sel2:        b.vector(RegSel2Lo, RegSel2Hi),
		Mask:        b.vector(RegMask0, RegMask1),
		Enable:      ctrl&CtrlEnable != 0,
		Reset:       ctrl&CtrlReset != 0,
		Init:        ctrl&CtrlInit != 0,
		Seed:        uint64(b.regs[RegSeed1])<<32 | uint64(b.regs[RegSeed0]),
		CalibStart:  ctrl&CtrlCalib != 0,
		CalibCycles: b.regs[RegCalibCycles],
		ReadReq:     b.regs[RegReadout]&ReadRequest != 0,
	})
	b.ticks++

	var ready uint32
	if out.Ready {
		ready = StatusReady
	}
	b.regs[RegStatus] = ready
	b.regs[RegSample0] = out.SampleLow
	b.regs[RegSample1] = out.SampleHigh
	b.regs[RegCaptured0] = uint32(out.Captured)
	b.regs[RegCaptured1] = uint32(out.Captured>>32) & highMask
	b.regs[RegState0] = uint32(out.RingState)
	b.regs[RegState1] = uint32(out.RingState >> 32)

	return out
}

// State returns the core's FSM state, for diagnostics.
func (b *Bank) State() core.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.core.State()
}
