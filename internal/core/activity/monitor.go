// Package activity detects operator idleness.
//
// A Monitor is armed with a threshold and a callback. Qualifying input events
// reset the idle clock at most once per throttle window; once the clock has
// been silent for the full threshold the callback fires exactly once and the
// monitor waits for the next activity.
package activity

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultThreshold = 10 * time.Minute
	DefaultThrottle  = time.Second
)

// EventKind is an input event class reported by the shell.
type EventKind string

const (
	EventPointerMove EventKind = "pointermove"
	EventKeyDown     EventKind = "keydown"
	EventClick       EventKind = "click"
	EventScroll      EventKind = "scroll"
	EventTouchStart  EventKind = "touchstart"
)

var qualifying = map[EventKind]struct{}{
	EventPointerMove: {},
	EventKeyDown:     {},
	EventClick:       {},
	EventScroll:      {},
	EventTouchStart:  {},
}

// Qualifies reports whether events of kind k reset the idle clock.
func (k EventKind) Qualifies() bool {
	_, ok := qualifying[k]
	return ok
}

// State is the monitor's lifecycle state.
type State int

const (
	Disarmed State = iota
	Waiting
	Triggering
)

func (s State) String() string {
	switch s {
	case Disarmed:
		return "disarmed"
	case Waiting:
		return "waiting"
	case Triggering:
		return "triggering"
	default:
		return "unknown"
	}
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithThrottle sets the minimum spacing between two timer resets.
func WithThrottle(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.throttle = d
		}
	}
}

// WithClock replaces time.Now. Timers still run on the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger attaches a logger for arm/fire diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Monitor) { m.log = log }
}

// Monitor tracks the last qualifying activity and fires a callback after a
// period of inactivity.
type Monitor struct {
	throttle time.Duration
	now      func() time.Time
	log      zerolog.Logger

	mu           sync.Mutex
	state        State
	threshold    time.Duration
	onTimeout    func()
	lastActivity time.Time
	limiter      *rate.Limiter
	timer        *time.Timer
	// epoch invalidates checks scheduled before the latest arm, reset or disarm.
	epoch uint64
}

// NewMonitor returns a disarmed monitor.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		throttle: DefaultThrottle,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Arm starts watching for inactivity. Arming an already armed monitor with the
// same threshold keeps the running idle clock.
func (m *Monitor) Arm(threshold time.Duration, onTimeout func()) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.onTimeout = onTimeout
	if m.state != Disarmed && m.threshold == threshold {
		return
	}

	m.threshold = threshold
	m.state = Waiting
	now := m.now()
	m.limiter = rate.NewLimiter(rate.Every(m.throttle), 1)
	// Arming counts as the window's reset.
	m.limiter.AllowN(now, 1)
	m.resetLocked(now)
	m.log.Debug().Dur("threshold", threshold).Msg("activity monitor armed")
}

// Disarm cancels every pending check. No callback fires afterwards.
func (m *Monitor) Disarm() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Disarmed {
		return
	}
	m.stopLocked()
	m.state = Disarmed
	m.onTimeout = nil
	m.limiter = nil
	m.log.Debug().Msg("activity monitor disarmed")
}

// Record reports an input event and returns true when it reset the idle clock.
// Non-qualifying kinds, throttled bursts and events while disarmed are ignored.
func (m *Monitor) Record(kind EventKind) bool {
	if !kind.Qualifies() {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Disarmed {
		return false
	}
	now := m.now()
	if !m.limiter.AllowN(now, 1) {
		return false
	}
	m.resetLocked(now)
	return true
}

// State returns the current lifecycle state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastActivity returns the instant of the latest reset.
func (m *Monitor) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}

func (m *Monitor) resetLocked(now time.Time) {
	m.lastActivity = now
	m.scheduleLocked(m.threshold)
}

func (m *Monitor) scheduleLocked(after time.Duration) {
	m.stopLocked()
	m.epoch++
	epoch := m.epoch
	m.timer = time.AfterFunc(after, func() { m.check(epoch) })
}

func (m *Monitor) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.epoch++
}

// check runs when a scheduled timer fires. Background throttling can fire a
// timer early relative to the recorded activity, so the idle time is
// re-validated before the callback runs.
func (m *Monitor) check(epoch uint64) {
	m.mu.Lock()
	if m.state != Waiting || epoch != m.epoch {
		m.mu.Unlock()
		return
	}

	idle := m.now().Sub(m.lastActivity)
	if idle < m.threshold {
		m.scheduleLocked(m.threshold - idle)
		m.mu.Unlock()
		return
	}

	m.timer = nil
	m.state = Triggering
	callback := m.onTimeout
	m.mu.Unlock()

	m.log.Info().Dur("idle", idle).Msg("inactivity threshold reached")
	if callback != nil {
		callback()
	}

	m.mu.Lock()
	if m.state == Triggering {
		m.state = Waiting
	}
	m.mu.Unlock()
}
