package ringgen

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isShiftStage(k int) bool {
	for _, s := range shiftStages {
		if s == k {
			return true
		}
	}
	return false
}

func feedbackTap(k int) (int, bool) {
	for _, fb := range feedbackTaps {
		if fb.stage == k {
			return fb.tap, true
		}
	}
	return 0, false
}

func TestWiringTable(t *testing.T) {
	seen := make(map[int]int)
	injected := 0
	for k := 0; k < Stages; k++ {
		e := EntropyBit(k)
		_, isFeedback := feedbackTap(k)
		switch {
		case isShiftStage(k) || isFeedback:
			assert.Equalf(t, -1, e, "stage %d must not inject entropy", k)
		default:
			require.GreaterOrEqual(t, e, 0, "stage %d", k)
			require.Less(t, e, EntropyWidth, "stage %d", k)
			if prev, dup := seen[e]; dup {
				t.Errorf("entropy bit %d assigned to both stage %d and %d", e, prev, k)
			}
			seen[e] = k
			injected++
		}
	}
	assert.Equal(t, EntropyWidth, injected)

	// spot-check the documented corners of the assignment
	assert.Equal(t, 49, EntropyBit(0))
	assert.Equal(t, 48, EntropyBit(1))
	assert.Equal(t, 47, EntropyBit(2))
	assert.Equal(t, 46, EntropyBit(4))
	assert.Equal(t, 0, EntropyBit(62))
}

// referenceTick is an independent per-stage rendition of the update rule,
// used to cross-check the bit-twiddled implementation.
func referenceTick(s, entropy uint64) uint64 {
	var next uint64
	for k := 0; k < Stages; k++ {
		b := (s >> uint((k+1)%Stages)) & 1
		if tap, ok := feedbackTap(k); ok {
			b ^= (s >> uint(tap)) & 1
		} else if e := EntropyBit(k); e >= 0 {
			b ^= (entropy >> uint(e)) & 1
		}
		next |= b << uint(k)
	}
	return next
}

func TestTickMatchesReference(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	ring := &Ring{}
	for i := 0; i < 1000; i++ {
		state := rnd.Uint64()
		entropy := rnd.Uint64() & ((1 << EntropyWidth) - 1)

		ring.Load(state)
		serial := ring.Tick(entropy)

		assert.Equal(t, state&1, serial, "serial bit must be pre-update stage 0")
		require.Equal(t, referenceTick(state, entropy), ring.State(), "state %#x entropy %#x", state, entropy)
	}
}

func TestZeroEntropyIsPureShiftAndFeedback(t *testing.T) {
	ring := &Ring{}
	ring.Load(0xFF00FF00FF00FF00)
	ring.Tick(0)
	assert.Equal(t, referenceTick(0xFF00FF00FF00FF00, 0), ring.State())

	// with zero entropy and zero state the ring stays at zero
	ring.Reset()
	ring.Tick(0)
	assert.Zero(t, ring.State())
}

func TestLoadAndReset(t *testing.T) {
	ring := &Ring{}
	ring.Load(0xDEADBEEFCAFEBABE)
	assert.Equal(t, uint64(0xDEADBEEFCAFEBABE), ring.State())

	ring.Reset()
	assert.Zero(t, ring.State())
}
