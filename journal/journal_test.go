package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "samples.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = j.Close()
	})
	return j
}

func TestAppendAndList(t *testing.T) {
	j := openTestJournal(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 3; i >= 1; i-- {
		_, err := j.Append(Record{
			Time:      base.Add(time.Duration(i) * time.Minute),
			Mode:      "trng",
			Sample:    uint64(i),
			RingState: uint64(i) << 8,
		})
		require.NoError(t, err)
	}

	recs, err := j.List()
	require.NoError(t, err)
	require.Len(t, recs, 3)

	// oldest first, IDs assigned
	for i, rec := range recs {
		assert.Equal(t, uint64(i+1), rec.Sample)
		assert.NotEmpty(t, rec.ID)
		assert.Equal(t, "trng", rec.Mode)
	}

	n, err := j.Len()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAppendAssignsTimestamp(t *testing.T) {
	j := openTestJournal(t)

	rec, err := j.Append(Record{Mode: "puf", Sample: 42})
	require.NoError(t, err)
	assert.False(t, rec.Time.IsZero())

	recs, err := j.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, uint64(42), recs[0].Sample)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.db")

	j, err := Open(path)
	require.NoError(t, err)
	_, err = j.Append(Record{Mode: "trng", Sample: 7})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer func() {
		_ = j.Close()
	}()

	recs, err := j.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(7), recs[0].Sample)
}
