// Package ringgen implements the 64-stage ring generator: a feedback shift
// register that mixes a 50-bit entropy vector into its state on every tick.
//
// Bit k of the state is stage k. Each stage takes its upstream neighbor
// (stage k+1 mod 64) and, depending on its position in the fixed wiring,
// either passes it through, XORs in one external entropy bit, or XORs in an
// internal feedback tap. The wiring is part of the silicon and must not be
// changed: any deviation alters the generator's period and mixing behavior.
package ringgen

import "math/bits"

// Stages is the width of the ring generator.
const Stages = 64

// EntropyWidth is the number of entropy bits consumed per tick.
const EntropyWidth = 50

// shiftStages take their upstream neighbor unmodified.
var shiftStages = [...]int{3, 6, 11, 15, 23, 27, 31, 63}

// feedbackTaps XOR an internal stage into the upstream neighbor.
var feedbackTaps = [...]struct{ stage, tap int }{
	{35, 28},
	{39, 24},
	{46, 16},
	{51, 12},
	{55, 7},
	{59, 4},
}

// entropyIndex maps a stage to the entropy bit it XORs in, or -1 for shift
// and feedback stages. Built at init instead of spelled out by hand so the
// assignment rule stays auditable: entropy bit 49 down to bit 0, handed to
// the injected stages in ascending stage order.
var entropyIndex [Stages]int

func init() {
	skip := make(map[int]bool, len(shiftStages)+len(feedbackTaps))
	for _, k := range shiftStages {
		skip[k] = true
	}
	for _, fb := range feedbackTaps {
		skip[fb.stage] = true
	}

	next := EntropyWidth - 1
	for k := 0; k < Stages; k++ {
		if skip[k] {
			entropyIndex[k] = -1
			continue
		}
		entropyIndex[k] = next
		next--
	}
	if next != -1 {
		panic("ringgen: wiring table does not consume exactly 50 entropy bits")
	}
}

// EntropyBit returns the entropy bit injected into stage k, or -1 when the
// stage is a pure shift or feedback stage. Exposed for wiring audits.
func EntropyBit(k int) int {
	return entropyIndex[k]
}

// Ring is the 64-stage register. The zero value is a reset ring.
type Ring struct {
	state uint64
}

// State returns the current register value.
func (r *Ring) State() uint64 {
	return r.state
}

// Reset clears the register.
func (r *Ring) Reset() {
	r.state = 0
}

// Load overwrites the register with a challenge value. No feedback is
// applied; this is the seeding path.
func (r *Ring) Load(challenge uint64) {
	r.state = challenge
}

// Tick advances the register by one cycle and returns the serial output:
// stage 0 of the state as it stood before the update.
func (r *Ring) Tick(entropy uint64) uint64 {
	s := r.state

	// next[k] = s[k+1 mod 64] for every stage, then XOR terms on top.
	next := bits.RotateLeft64(s, -1)
	for k, e := range entropyIndex {
		if e >= 0 {
			next ^= ((entropy >> uint(e)) & 1) << uint(k)
		}
	}
	for _, fb := range feedbackTaps {
		next ^= ((s >> uint(fb.tap)) & 1) << uint(fb.stage)
	}

	r.state = next
	return s & 1
}
