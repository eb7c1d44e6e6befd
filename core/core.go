// Package core implements the control state machine and datapath of the
// peripheral: calibration timing, seeding, serial sample collection and the
// ready/read handshake, on top of the entropy fabric and the ring generator.
//
// The model is lock-step: one call to Tick advances the whole peripheral by
// one clock cycle, and everything inside a tick is computed from the state
// as it stood when the tick began.
package core

import (
	"github.com/tinysil/upt/entropy"
	"github.com/tinysil/upt/ringgen"
)

// State is the control FSM state.
type State uint8

// FSM states. Undefined encodings normalize to Idle.
const (
	Idle State = iota
	Seeding
	Calibrating
	Ready
	Collecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Seeding:
		return "seeding"
	case Calibrating:
		return "calibrating"
	case Ready:
		return "ready"
	case Collecting:
		return "collecting"
	default:
		return "invalid"
	}
}

// Inputs is the register-level input bundle sampled at one tick. Vectors
// are 50-bit, in the low bits.
type Inputs struct {
	Mode entropy.Mode

	Trigger uint64
	Sel1    uint64
	Sel2    uint64
	Mask    uint64

	Enable bool
	Reset  bool

	Init bool
	Seed uint64

	CalibStart  bool
	CalibCycles uint32

	ReadReq bool
}

// Outputs is the register-level output bundle after one tick. Ready and the
// sample words read as zero while the peripheral is disabled; Captured and
// RingState are diagnostics and stay visible.
type Outputs struct {
	Captured  uint64
	RingState uint64

	Ready      bool
	SampleLow  uint32
	SampleHigh uint32

	State State
}

// Core is the peripheral model. All owned state mutates exactly once per
// enabled tick; the fingerprint and ring registers are owned by the fabric
// and the ring and only commanded from here.
type Core struct {
	fabric *entropy.Fabric
	ring   *ringgen.Ring

	state    State
	calib    uint32
	bits     int
	shift    uint64
	sample   uint64
	prevRead bool
}

// New creates a core around the given fabric.
func New(fabric *entropy.Fabric) *Core {
	return &Core{
		fabric: fabric,
		ring:   &ringgen.Ring{},
	}
}

// State returns the current FSM state.
func (c *Core) State() State {
	return c.state
}

// Tick advances the peripheral by one clock cycle.
//
// Reset is synchronous and wins over enable. With enable low nothing
// changes and the handshake outputs read as zero. The ring consumes the
// fingerprint register as of tick start, not the value the capture step
// writes this cycle, and the collected serial bit is the ring's pre-update
// stage 0.
func (c *Core) Tick(in Inputs) Outputs {
	if in.Reset {
		c.reset()
		return c.outputs(in.Enable)
	}
	if !in.Enable {
		return c.outputs(false)
	}

	raw := c.fabric.Evaluate(in.Trigger, in.Sel1, in.Sel2)
	injected := c.fabric.Inject(in.Mode, raw, in.Mask)

	// The fingerprint accumulates on every enabled PUF-mode tick,
	// whatever the FSM is doing.
	if in.Mode == entropy.PUF {
		c.fabric.Capture(in.Trigger, raw)
	}

	readEdge := in.ReadReq && !c.prevRead
	c.prevRead = in.ReadReq

	switch c.state {
	case Idle:
		switch {
		case in.Mode == entropy.TRNG && in.CalibStart:
			c.state = Calibrating
		case in.Mode == entropy.PUF && in.Init:
			// The challenge loads on the entering tick already, so a
			// single-cycle initialize pulse is enough to seed.
			c.ring.Load(in.Seed)
			c.state = Seeding
		}

	case Seeding:
		// The ring is only driven while initialize is held, and it
		// loads the challenge rather than ticking.
		if in.Init {
			c.ring.Load(in.Seed)
		}
		if in.CalibStart {
			c.state = Calibrating
		}

	case Calibrating:
		c.ring.Tick(injected)
		done := uint64(c.calib)+1 >= uint64(in.CalibCycles)
		c.calib++
		if done {
			c.calib = 0
			c.state = Ready
		}

	case Ready:
		if readEdge {
			c.state = Collecting
		}

	case Collecting:
		// MSB-first: the first collected bit ends up as bit 63.
		serial := c.ring.Tick(injected)
		c.shift = c.shift<<1 | serial
		c.bits++
		if c.bits == ringgen.Stages {
			c.sample = c.shift
			c.bits = 0
			c.shift = 0
			c.state = Ready
		}

	default:
		c.state = Idle
	}

	return c.outputs(true)
}

func (c *Core) reset() {
	c.fabric.Reset()
	c.ring.Reset()
	c.state = Idle
	c.calib = 0
	c.bits = 0
	c.shift = 0
	c.sample = 0
	c.prevRead = false
}

func (c *Core) outputs(enabled bool) Outputs {
	out := Outputs{
		Captured:  c.fabric.Captured(),
		RingState: c.ring.State(),
		State:     c.state,
	}
	if enabled {
		out.Ready = c.state == Ready
		out.SampleLow = uint32(c.sample)
		out.SampleHigh = uint32(c.sample >> 32)
	}
	return out
}
