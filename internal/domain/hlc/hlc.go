// Package hlc implements the hybrid logical clock used to order writes
// across devices (spec §4.1). Values are fixed-width strings —
// TTTTTTTTTTTTT:CCCC:NNNNNNNN — so lexicographic string comparison matches
// logical order without parsing.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	shortuuid "github.com/lithammer/shortuuid/v3"
)

const (
	timestampWidth = 13
	counterWidth   = 4
	deviceWidth    = 8
)

// DeviceStore persists the stable per-device id across restarts. A host
// without durable user-scoped storage can pass nil — Clock then generates a
// random id and holds it for the process lifetime (§4.1).
type DeviceStore interface {
	Load() (string, bool)
	Save(id string) error
}

// memDeviceStore is the fallback used when no DeviceStore is supplied.
type memDeviceStore struct {
	mu sync.Mutex
	id string
	ok bool
}

func (m *memDeviceStore) Load() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, m.ok
}

func (m *memDeviceStore) Save(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id, m.ok = id, true
	return nil
}

// WallClock returns the current time in epoch milliseconds. Exposed as a
// seam so tests can drive clock regression deterministically.
type WallClock func() int64

func defaultWallClock() int64 { return time.Now().UnixMilli() }

// Clock generates monotone HLC values for a single device (§4.1). It never
// throws: a regressing wall clock only makes the counter climb unboundedly,
// which preserves ordering at the cost of a monitoring signal the caller is
// free to emit.
type Clock struct {
	mu            sync.Mutex
	lastTimestamp int64
	counter       uint32
	deviceID      string
	now           WallClock

	// onClockRegression is invoked (outside the lock) on every generate()
	// call that observes now <= lastTimestamp, i.e. the counter is climbing
	// because wall time didn't move. Optional.
	onClockRegression func(lastTimestamp int64, counter uint32)
}

// Option configures a Clock.
type Option func(*Clock)

// WithWallClock overrides the time source (tests only).
func WithWallClock(now WallClock) Option {
	return func(c *Clock) { c.now = now }
}

// WithRegressionHook registers a callback fired when the wall clock fails to
// advance between generate() calls.
func WithRegressionHook(f func(lastTimestamp int64, counter uint32)) Option {
	return func(c *Clock) { c.onClockRegression = f }
}

// New builds a Clock backed by store (or an in-process fallback if store is
// nil). It reads/generates the device id eagerly so DeviceID() is cheap.
func New(store DeviceStore, opts ...Option) *Clock {
	if store == nil {
		store = &memDeviceStore{}
	}

	c := &Clock{now: defaultWallClock}
	for _, opt := range opts {
		opt(c)
	}

	id, ok := store.Load()
	if !ok || len(id) != deviceWidth {
		id = generateDeviceID()
		_ = store.Save(id)
	}
	c.deviceID = id
	return c
}

func generateDeviceID() string {
	id := shortuuid.New()
	if len(id) >= deviceWidth {
		return id[:deviceWidth]
	}
	// shortuuid's alphabet never yields fewer than deviceWidth characters in
	// practice, but pad defensively rather than panic on index out of range.
	return (id + strings.Repeat("0", deviceWidth))[:deviceWidth]
}

// DeviceID returns this clock's stable 8-character device id.
func (c *Clock) DeviceID() string { return c.deviceID }

// Generate returns a strictly increasing HLC string for this process
// (§8 invariant 2).
func (c *Clock) Generate() string {
	c.mu.Lock()
	now := c.now()
	regressed := now <= c.lastTimestamp
	if now > c.lastTimestamp {
		c.lastTimestamp = now
		c.counter = 0
	} else {
		c.counter++
	}
	ts, ctr := c.lastTimestamp, c.counter
	c.mu.Unlock()

	if regressed && c.onClockRegression != nil {
		c.onClockRegression(ts, ctr)
	}

	return Format(ts, ctr, c.deviceID)
}

// Format renders the fixed-width HLC string for given components.
func Format(timestampMs int64, counter uint32, deviceID string) string {
	return fmt.Sprintf("%0*d:%0*d:%s", timestampWidth, timestampMs, counterWidth, counter, deviceID)
}

// Parse decomposes an HLC string into its components.
func Parse(s string) (timestampMs int64, counter uint32, deviceID string, err error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("hlc: malformed value %q", s)
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("hlc: bad timestamp in %q: %w", s, err)
	}
	ctr, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, "", fmt.Errorf("hlc: bad counter in %q: %w", s, err)
	}
	return ts, uint32(ctr), parts[2], nil
}

// Compare returns -1, 0, or 1 the way bytes.Compare does, matching
// lexicographic string order (the invariant the whole format exists for).
func Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// ToOrderKey is the identity function: the HLC string is already a
// lexicographic ordering key (§4.1).
func ToOrderKey(h string) string { return h }
