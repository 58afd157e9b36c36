package clock

import (
	"sync"
	"time"
)

// Engine is the audio output the clock drives. Calls are synchronous; a Seek
// must take effect before the next Advance reads the wall clock. Resume
// continues from offset, the position the clock held when paused.
type Engine interface {
	Play(offset float64) error
	Pause() error
	Resume(offset float64) error
	Seek(offset float64) error
}

// Status reports whether an operation changed the clock. Operations whose
// preconditions are not met are ignored rather than failed.
type Status int

const (
	Ignored Status = iota
	Applied
)

func (s Status) String() string {
	if s == Applied {
		return "applied"
	}
	return "ignored"
}

// State is a point-in-time copy of the clock.
type State struct {
	Position    float64 `json:"position"`
	TotalLength float64 `json:"totalLength"`
	Loaded      bool    `json:"loaded"`
	Playing     bool    `json:"playing"`
	Paused      bool    `json:"paused"`
	Dragging    bool    `json:"dragging"`
}

// Clock tracks the playback offset of the loaded item from wall-clock deltas.
// The periodic Advance and user-triggered position changes share one mutex,
// so position and lastTick always change together.
type Clock struct {
	engine Engine
	now    func() time.Time

	mu             sync.Mutex
	loaded         bool
	playing        bool
	paused         bool
	dragging       bool
	position       float64
	totalLength    float64
	pausedPosition float64
	lastTick       time.Time
}

type Option func(*Clock)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

func New(engine Engine, opts ...Option) *Clock {
	c := &Clock{
		engine: engine,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.lastTick = c.now()
	return c
}

// Load resets the clock for a newly loaded item of the given length.
func (c *Clock) Load(totalLength float64) {
	if totalLength < 0 {
		totalLength = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = true
	c.playing = false
	c.paused = false
	c.dragging = false
	c.position = 0
	c.pausedPosition = 0
	c.totalLength = totalLength
	c.lastTick = c.now()
}

// Unload returns the clock to its initial, empty state.
func (c *Clock) Unload() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = false
	c.playing = false
	c.paused = false
	c.dragging = false
	c.position = 0
	c.pausedPosition = 0
	c.totalLength = 0
	c.lastTick = c.now()
}

// Restore sets the starting offset before the first Play, used to pick up
// where a previous session stopped.
func (c *Clock) Restore(position float64) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded || c.playing {
		return Ignored
	}
	c.position = c.clamp(position)
	c.lastTick = c.now()
	return Applied
}

func (c *Clock) Play() (Status, error) {
	c.mu.Lock()
	if !c.loaded || c.playing {
		c.mu.Unlock()
		return Ignored, nil
	}
	c.playing = true
	c.paused = false
	c.lastTick = c.now()
	offset := c.position
	c.mu.Unlock()

	return Applied, c.engine.Play(offset)
}

func (c *Clock) Pause() (Status, error) {
	c.mu.Lock()
	if !c.playing || c.paused {
		c.mu.Unlock()
		return Ignored, nil
	}
	c.pausedPosition = c.position
	c.paused = true
	c.mu.Unlock()

	return Applied, c.engine.Pause()
}

func (c *Clock) Resume() (Status, error) {
	c.mu.Lock()
	if !c.playing || !c.paused {
		c.mu.Unlock()
		return Ignored, nil
	}
	c.position = c.pausedPosition
	c.lastTick = c.now()
	c.paused = false
	offset := c.position
	c.mu.Unlock()

	return Applied, c.engine.Resume(offset)
}

// Advance is the periodic tick. It adds the wall time elapsed since the last
// recalculation, capped at the track length.
func (c *Clock) Advance() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.playing || c.paused || c.dragging {
		return Ignored
	}
	now := c.now()
	elapsed := now.Sub(c.lastTick).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	c.position = min(c.position+elapsed, c.totalLength)
	c.lastTick = now
	return Applied
}

// SeekRelative skips forward or back by delta seconds while playing.
func (c *Clock) SeekRelative(delta float64) (Status, error) {
	c.mu.Lock()
	if !c.playing {
		c.mu.Unlock()
		return Ignored, nil
	}
	offset := c.set(c.position + delta)
	c.mu.Unlock()

	return Applied, c.engine.Seek(offset)
}

// SeekAbsolute moves to fraction of the track length.
func (c *Clock) SeekAbsolute(fraction float64) (Status, error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return Ignored, nil
	}
	fraction = max(0, min(fraction, 1))
	offset := c.set(fraction * c.totalLength)
	c.mu.Unlock()

	return Applied, c.engine.Seek(offset)
}

// Jump moves to an anchor position. Playing and paused flags are untouched.
func (c *Clock) Jump(position float64) (Status, error) {
	c.mu.Lock()
	if !c.loaded {
		c.mu.Unlock()
		return Ignored, nil
	}
	offset := c.set(position)
	c.mu.Unlock()

	return Applied, c.engine.Seek(offset)
}

// BeginDrag suspends Advance until EndDrag.
func (c *Clock) BeginDrag() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		return Ignored
	}
	c.dragging = true
	return Applied
}

func (c *Clock) EndDrag(fraction float64) (Status, error) {
	c.mu.Lock()
	c.dragging = false
	c.mu.Unlock()

	return c.SeekAbsolute(fraction)
}

func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.position
}

func (c *Clock) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		Position:    c.position,
		TotalLength: c.totalLength,
		Loaded:      c.loaded,
		Playing:     c.playing,
		Paused:      c.paused,
		Dragging:    c.dragging,
	}
}

// set stores a clamped position and restarts the elapsed-time window.
// c.mu must be held.
func (c *Clock) set(position float64) float64 {
	c.position = c.clamp(position)
	c.lastTick = c.now()
	return c.position
}

func (c *Clock) clamp(position float64) float64 {
	return max(0, min(position, c.totalLength))
}
