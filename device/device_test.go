package device

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinysil/upt/entropy"
)

func testOptions() Options {
	return Options{
		TickInterval: time.Millisecond,
		Mode:         entropy.TRNG,
		Trigger:      entropy.VectorMask,
		Sel1:         entropy.VectorMask,
		Mask:         entropy.VectorMask,
		Seed:         0xCAFEBABEDEADBEEF,
		CalibCycles:  8,
		Harvest:      true,
	}
}

// stepUntil drives the clock directly until cond holds or the tick budget
// runs out.
func stepUntil(t *testing.T, d *Device, ticks int, cond func() bool) {
	t.Helper()
	for i := 0; i < ticks; i++ {
		d.step()
		if cond() {
			return
		}
	}
	t.Fatalf("condition not reached within %d ticks", ticks)
}

func TestHarvestTRNG(t *testing.T) {
	d, err := New(testOptions())
	require.NoError(t, err)
	defer func() {
		require.NoError(t, d.Close())
	}()

	sub, cancel := d.Subscribe()
	defer cancel()

	stepUntil(t, d, 1000, func() bool {
		return d.Status().Samples >= 3
	})

	st := d.Status()
	assert.Equal(t, "trng", st.Mode)
	assert.True(t, st.Ticks > 0)
	assert.GreaterOrEqual(t, st.Samples, uint64(3))

	select {
	case rec := <-sub:
		assert.Equal(t, "trng", rec.Mode)
		assert.NotZero(t, rec.Sample)
	default:
		t.Fatal("subscriber received no sample")
	}
}

func TestHarvestPUFWithJournal(t *testing.T) {
	opts := testOptions()
	opts.Mode = entropy.PUF
	opts.CalibCycles = 5
	opts.JournalPath = filepath.Join(t.TempDir(), "samples.db")

	d, err := New(opts)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, d.Close())
	}()

	stepUntil(t, d, 1000, func() bool {
		return d.Status().Samples >= 1
	})

	recs, err := d.Samples()
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, "puf", recs[0].Mode)
	assert.NotEmpty(t, recs[0].ID)
}

func TestNoiseCellDevice(t *testing.T) {
	opts := testOptions()
	opts.NewCell = func(int) (entropy.Cell, error) {
		return entropy.NewNoiseCell(entropy.CipherAES)
	}

	d, err := New(opts)
	require.NoError(t, err)
	defer func() {
		_ = d.Close()
	}()

	stepUntil(t, d, 1000, func() bool {
		return d.Status().Samples >= 1
	})
}

func TestRunStops(t *testing.T) {
	opts := testOptions()
	opts.TickInterval = 100 * time.Microsecond

	d, err := New(opts)
	require.NoError(t, err)
	defer func() {
		_ = d.Close()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- d.Run(ctx)
	}()

	// second Run must refuse while the first is active
	require.Eventually(t, d.IsRunning, time.Second, time.Millisecond)
	assert.ErrorIs(t, d.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}
	assert.False(t, d.IsRunning())
}
