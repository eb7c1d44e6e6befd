// Package entropy models the bit-level entropy sources of the peripheral
// and the 50-channel fabric that feeds the ring generator.
package entropy

// Mode selects which entropy path the ring generator consumes.
type Mode uint8

const (
	// TRNG consumes the live, unmasked fabric output.
	TRNG Mode = iota
	// PUF consumes the captured, masked fingerprint.
	PUF
)

func (m Mode) String() string {
	switch m {
	case TRNG:
		return "trng"
	case PUF:
		return "puf"
	default:
		return "invalid"
	}
}

// Cell is one bit-level entropy source. While trigger is low the cell emits
// nothing (false). While trigger is high the emitted bit is implementation
// defined; the two selector inputs steer the cell between its
// random-harvesting and fingerprint operating points.
//
// The metastable behavior of the physical cell cannot be modeled in
// deterministic software, so the cell is a substitution point: functional
// tests run on StaticCell, production simulations plug a noise-producing
// implementation such as NoiseCell behind the same contract.
type Cell interface {
	Eval(trigger, sel1, sel2 bool) bool
}

// StaticCell is the deterministic functional stand-in: trigger AND sel1.
// The random/fingerprint distinction of the selector pair is lost at this
// level; it only exists in the analog domain.
type StaticCell struct{}

// Eval implements Cell.
func (StaticCell) Eval(trigger, sel1, _ bool) bool {
	return trigger && sel1
}
