package entropy

import "fmt"

// Channels is the number of entropy channels in the fabric.
const Channels = 50

// VectorMask keeps a value within the 50-bit fabric width.
const VectorMask = (uint64(1) << Channels) - 1

// Fabric owns the entropy cell array and the captured fingerprint register.
// All vectors are uint64 with bit j belonging to channel j; bits above the
// fabric width are ignored.
type Fabric struct {
	cells    [Channels]Cell
	captured uint64
}

// NewFabric builds the channel array from the given constructor, one cell
// per channel.
func NewFabric(newCell func(channel int) (Cell, error)) (*Fabric, error) {
	f := &Fabric{}
	for ch := range f.cells {
		cell, err := newCell(ch)
		if err != nil {
			return nil, fmt.Errorf("channel %d: %w", ch, err)
		}
		f.cells[ch] = cell
	}
	return f, nil
}

// NewStaticFabric builds a fabric of deterministic stand-in cells.
func NewStaticFabric() *Fabric {
	f, _ := NewFabric(func(int) (Cell, error) {
		return StaticCell{}, nil
	})
	return f
}

// NewNoiseFabric builds a fabric of Fortuna-backed noise cells, one
// independent generator per channel.
func NewNoiseFabric(cipher Cipher) (*Fabric, error) {
	return NewFabric(func(int) (Cell, error) {
		return NewNoiseCell(cipher)
	})
}

func bitOf(v uint64, ch int) bool {
	return (v>>uint(ch))&1 == 1
}

// Evaluate runs every channel once and returns the raw 50-bit output
// vector for this tick.
func (f *Fabric) Evaluate(trigger, sel1, sel2 uint64) uint64 {
	var raw uint64
	for ch, cell := range f.cells {
		if cell.Eval(bitOf(trigger, ch), bitOf(sel1, ch), bitOf(sel2, ch)) {
			raw |= 1 << uint(ch)
		}
	}
	return raw
}

// Capture latches raw into the fingerprint register. A channel that has
// captured a 1 keeps it until Reset; a channel holding a 0 keeps resampling
// raw for as long as its trigger is high. The asymmetry is inherited from
// the silicon and preserved as observed. Promotion is only ever 0 to 1
// (rewriting a held 0 with a fresh 0 is indistinguishable from holding it),
// so the sticky latch reduces to an OR.
func (f *Fabric) Capture(trigger, raw uint64) {
	f.captured |= trigger & raw & VectorMask
}

// Captured returns the fingerprint register.
func (f *Fabric) Captured() uint64 {
	return f.captured
}

// Inject selects the entropy vector the ring generator consumes this tick:
// the live raw vector in TRNG mode, the captured fingerprint gated by mask
// in PUF mode.
func (f *Fabric) Inject(mode Mode, raw, mask uint64) uint64 {
	if mode == PUF {
		return f.captured & mask & VectorMask
	}
	return raw & VectorMask
}

// Reset clears the fingerprint register.
func (f *Fabric) Reset() {
	f.captured = 0
}
