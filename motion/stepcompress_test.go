package motion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepCompressFlushAdvancesPositionAndHistory(t *testing.T) {
	var sent []int64
	sc := NewStepCompress(7, func(oid int, clock int64, dir int64) error {
		assert.Equal(t, 7, oid)
		sent = append(sent, clock)
		return nil
	})

	require.NoError(t, sc.Append(100))
	require.NoError(t, sc.Append(200))
	require.NoError(t, sc.Append(300))

	require.NoError(t, sc.Flush(200))
	assert.Equal(t, []int64{100, 200}, sent)
	assert.Equal(t, int64(2), sc.LastPosition())
	assert.Equal(t, 1, sc.Pending())

	require.NoError(t, sc.Flush(300))
	assert.Equal(t, int64(3), sc.LastPosition())
	assert.Equal(t, 0, sc.Pending())
}

func TestStepCompressAppendRejectsDesyncedClock(t *testing.T) {
	sc := NewStepCompress(1, func(int, int64, int64) error { return nil })
	require.NoError(t, sc.Append(100))
	require.NoError(t, sc.Flush(100))

	err := sc.Append(50)
	assert.Error(t, err)
}

func TestStepCompressFindPastPosition(t *testing.T) {
	sc := NewStepCompress(1, func(int, int64, int64) error { return nil })
	require.NoError(t, sc.Append(100))
	require.NoError(t, sc.Append(200))
	require.NoError(t, sc.Append(300))
	require.NoError(t, sc.Flush(300))

	assert.Equal(t, int64(1), sc.FindPastPosition(150))
	assert.Equal(t, int64(3), sc.FindPastPosition(300))
	assert.Equal(t, int64(1), sc.FindPastPosition(0))
}

func TestStepCompressResetClearsState(t *testing.T) {
	sc := NewStepCompress(1, func(int, int64, int64) error { return nil })
	require.NoError(t, sc.Append(100))
	require.NoError(t, sc.Flush(100))

	sc.Reset(0)
	assert.Equal(t, 0, sc.Pending())
	assert.Equal(t, int64(1), sc.LastPosition()) // position survives, only clock resets
}
