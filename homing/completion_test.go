package homing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompletionFireWakesWaiter(t *testing.T) {
	c := NewCompletion()
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.Fire(1.5, nil)
	}()
	assert.True(t, c.Wait(1))
	at, err, ok := c.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.InDelta(t, 1.5, at, 1e-9)
}

func TestCompletionWaitTimesOut(t *testing.T) {
	c := NewCompletion()
	assert.False(t, c.Wait(0.02))
	assert.False(t, c.Fired())
}

func TestCompletionFireOnlyFiresOnce(t *testing.T) {
	c := NewCompletion()
	c.Fire(1, nil)
	c.Fire(2, nil)
	at, _, _ := c.Result()
	assert.Equal(t, 1.0, at)
}

func TestMultiCompleteWaitsForAll(t *testing.T) {
	a := NewCompletion()
	b := NewCompletion()
	go func() {
		time.Sleep(5 * time.Millisecond)
		a.Fire(1.0, nil)
	}()
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Fire(2.0, nil)
	}()

	out := MultiComplete([]*Completion{a, b}, 1)
	assert.True(t, out.Wait(1))
	at, err, _ := out.Result()
	assert.NoError(t, err)
	assert.InDelta(t, 2.0, at, 1e-9)
}

func TestMultiCompletePropagatesError(t *testing.T) {
	a := NewCompletion()
	a.Fire(0, assertError("boom"))

	out := MultiComplete([]*Completion{a}, 1)
	_, err, _ := out.Result()
	assert.Error(t, err)
}

type assertError string

func (e assertError) Error() string { return string(e) }
