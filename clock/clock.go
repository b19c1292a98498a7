package clock

import (
	"math"
	"sync"
	"time"
)

const (
	GuestTickFrequency = 50000000

	fileTimeEpochDelta = 116444736000000000
)

type Clock struct {
	mu         sync.RWMutex
	now        func() time.Time
	hostBase   time.Time
	guestBase  time.Duration
	timeScalar float64
}

func New() *Clock {
	return newClock(time.Now)
}

func newClock(now func() time.Time) *Clock {
	return &Clock{now: now, hostBase: now(), timeScalar: 1}
}

func (c *Clock) TimeScalar() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.timeScalar
}

// SetTimeScalar rebases the guest clock so guest time stays continuous.
func (c *Clock) SetTimeScalar(scalar float64) {
	if scalar <= 0 || math.IsNaN(scalar) || math.IsInf(scalar, 0) {
		return
	}
	c.mu.Lock()
	now := c.now()
	c.guestBase = c.elapsed(now)
	c.hostBase = now
	c.timeScalar = scalar
	c.mu.Unlock()
}

func (c *Clock) GuestElapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.elapsed(c.now())
}

func (c *Clock) GuestTickCount() uint64 {
	elapsed := c.GuestElapsed()
	return uint64(elapsed/time.Second)*GuestTickFrequency + uint64(elapsed%time.Second)*GuestTickFrequency/uint64(time.Second)
}

func (c *Clock) GuestSystemTime() uint64 {
	c.mu.RLock()
	base := c.hostBase.Add(-c.guestBase)
	elapsed := c.elapsed(c.now())
	c.mu.RUnlock()
	return ToFileTime(base.Add(elapsed))
}

func (c *Clock) elapsed(now time.Time) time.Duration {
	return c.guestBase + time.Duration(float64(now.Sub(c.hostBase))*c.timeScalar)
}

func ToFileTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100) + fileTimeEpochDelta
}
