package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMockAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)
	assert.Equal(t, start, m.Now())

	m.Advance(time.Millisecond)
	assert.Equal(t, start.Add(time.Millisecond), m.Now())

	var slept time.Duration
	m.OnSleep = func(d time.Duration) { slept += d }
	m.Sleep(2 * time.Millisecond)
	m.Sleep(-time.Second)
	assert.Equal(t, start.Add(3*time.Millisecond), m.Now())
	assert.Equal(t, 2*time.Millisecond, slept)

	m.Set(start)
	assert.Equal(t, start, m.Now())
}

func TestMockAfter(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMock(start)

	ch := m.After(10 * time.Millisecond)
	assert.Equal(t, 1, m.Waiters())

	m.Advance(9 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	m.Sleep(time.Millisecond)
	select {
	case at := <-ch:
		assert.Equal(t, start.Add(10*time.Millisecond), at)
	default:
		t.Fatal("did not fire at its deadline")
	}
	assert.Zero(t, m.Waiters())

	select {
	case <-m.After(0):
	default:
		t.Fatal("zero wait should be ready at once")
	}
}

func TestRealAfter(t *testing.T) {
	select {
	case <-New().After(time.Millisecond):
	case <-time.After(time.Second):
		t.Fatal("real After never fired")
	}
}

func TestRealIsMonotonic(t *testing.T) {
	c := New()
	a := c.Now()
	c.Sleep(time.Millisecond)
	assert.True(t, c.Now().After(a))
}
