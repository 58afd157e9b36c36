package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/treefix50/anchorplay/internal/clock"
	"github.com/treefix50/anchorplay/internal/timeline"
)

const (
	// SkipSeconds is the forward/rewind step.
	SkipSeconds = 5.0
	// PrevLookback lets "previous anchor" escape an anchor the listener has
	// only just passed.
	PrevLookback = 5.0
	// TickInterval is the default period of Run.
	TickInterval = 500 * time.Millisecond
	// resumeEveryTicks controls how often Run persists the resume point.
	resumeEveryTicks = 20
)

var (
	ErrNoItem             = errors.New("no item loaded")
	ErrNothingToDelete    = errors.New("nothing to delete")
	ErrOffsetNotPersisted = errors.New("anchor offset not found in store")
)

// Gateway persists the raw anchor offsets of each item, keyed by item id.
type Gateway interface {
	LoadOffsets(ctx context.Context, itemID string) ([]float64, error)
	SaveOffsets(ctx context.Context, itemID string, offsets []float64) error
	DeleteOffset(ctx context.Context, itemID string, offset float64) (bool, error)
}

// ResumeStore remembers where playback of an item stopped.
type ResumeStore interface {
	SaveResume(ctx context.Context, itemID string, position, total float64) error
	LoadResume(ctx context.Context, itemID string) (float64, bool, error)
}

// Loader opens a track on the audio engine and reports its length in seconds.
type Loader interface {
	LoadTrack(ctx context.Context, path string) (float64, error)
}

// Engine is everything the session needs from the audio backend.
type Engine interface {
	clock.Engine
	Loader
}

// AnchorView is an anchor decorated for display.
type AnchorView struct {
	timeline.Anchor
	Label string `json:"label"`
}

// Snapshot is what a host UI renders: progress, time label and anchor list.
type Snapshot struct {
	ItemID        string       `json:"itemId,omitempty"`
	Path          string       `json:"path,omitempty"`
	Position      float64      `json:"position"`
	TotalLength   float64      `json:"totalLength"`
	PositionLabel string       `json:"positionLabel"`
	TotalLabel    string       `json:"totalLabel"`
	Playing       bool         `json:"playing"`
	Paused        bool         `json:"paused"`
	Dragging      bool         `json:"dragging"`
	Anchors       []AnchorView `json:"anchors"`
}

// Session binds the anchor timeline and the playback clock of the single
// loaded item to the audio engine and the stores.
type Session struct {
	engine  Engine
	gateway Gateway
	resume  ResumeStore
	clock   *clock.Clock

	// mu guards the item fields and the timeline. Clock state has its own lock.
	mu      sync.Mutex
	itemID  string
	path    string
	anchors *timeline.Timeline
}

type Option func(*Session)

// WithResumeStore enables cross-session resume points.
func WithResumeStore(store ResumeStore) Option {
	return func(s *Session) {
		s.resume = store
	}
}

// WithClockOptions forwards options to the playback clock.
func WithClockOptions(opts ...clock.Option) Option {
	return func(s *Session) {
		s.clock = clock.New(s.engine, opts...)
	}
}

func New(engine Engine, gateway Gateway, opts ...Option) *Session {
	s := &Session{
		engine:  engine,
		gateway: gateway,
		anchors: timeline.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clock.New(engine)
	}
	return s
}

// ItemID is the key used for persistence: the base name of the media file.
func ItemID(path string) string {
	return filepath.Base(path)
}

// Load opens path, rebuilds the timeline from the saved offsets plus a tail
// anchor at the track end, and restores the saved resume point.
func (s *Session) Load(ctx context.Context, path string) error {
	total, err := s.engine.LoadTrack(ctx, path)
	if err != nil {
		return fmt.Errorf("session: load %s: %w", path, err)
	}
	id := ItemID(path)

	offsets, err := s.gateway.LoadOffsets(ctx, id)
	if err != nil {
		return fmt.Errorf("session: load anchors for %s: %w", id, err)
	}

	anchors := timeline.New()
	for _, offset := range offsets {
		anchors.Insert(offset, false)
	}
	anchors.Insert(total, true)

	s.saveResume(ctx)

	s.mu.Lock()
	s.itemID = id
	s.path = path
	s.anchors = anchors
	s.mu.Unlock()

	s.clock.Load(total)

	if s.resume != nil {
		position, ok, err := s.resume.LoadResume(ctx, id)
		if err != nil {
			log.Printf("level=warn msg=\"resume point unavailable\" item=%q err=%v", id, err)
		} else if ok && position < total {
			s.clock.Restore(position)
		}
	}

	log.Printf("level=info msg=\"item loaded\" item=%q total=%s anchors=%d", id, timeline.FormatDuration(total), len(offsets))
	return nil
}

// TogglePlay mirrors the single play/pause control: start playback, resume
// a paused item, or pause a playing one.
func (s *Session) TogglePlay(ctx context.Context) (clock.Status, error) {
	state := s.clock.Snapshot()
	switch {
	case !state.Loaded:
		return clock.Ignored, nil
	case !state.Playing:
		return s.clock.Play()
	case state.Paused:
		return s.clock.Resume()
	default:
		status, err := s.clock.Pause()
		s.saveResume(ctx)
		return status, err
	}
}

// AddAnchor bookmarks the current position and persists the full offset list.
func (s *Session) AddAnchor(ctx context.Context) (timeline.Anchor, error) {
	position := s.clock.Position()

	s.mu.Lock()
	if s.itemID == "" {
		s.mu.Unlock()
		return timeline.Anchor{}, ErrNoItem
	}
	s.anchors.Insert(position, false)
	id := s.itemID
	offsets := s.anchors.Positions()
	s.mu.Unlock()

	anchor := timeline.Anchor{Position: position}
	if err := s.gateway.SaveOffsets(ctx, id, offsets); err != nil {
		return anchor, fmt.Errorf("session: save anchors for %s: %w", id, err)
	}
	return anchor, nil
}

// DeleteNearestAnchor removes the anchor closest to the current position.
// The tail anchor is never removed and yields ErrNothingToDelete. When the
// store has no matching offset the in-memory deletion still stands and
// ErrOffsetNotPersisted is returned.
func (s *Session) DeleteNearestAnchor(ctx context.Context) (timeline.Anchor, error) {
	position := s.clock.Position()

	s.mu.Lock()
	if s.itemID == "" {
		s.mu.Unlock()
		return timeline.Anchor{}, ErrNoItem
	}
	found, ok := s.anchors.NearestDelete(position)
	id := s.itemID
	s.mu.Unlock()

	if !ok || found.Tail {
		return found, ErrNothingToDelete
	}

	deleted, err := s.gateway.DeleteOffset(ctx, id, found.Position)
	if err != nil {
		return found, fmt.Errorf("session: delete anchor for %s: %w", id, err)
	}
	if !deleted {
		log.Printf("level=warn msg=\"anchor missing from store\" item=%q offset=%v", id, found.Position)
		return found, ErrOffsetNotPersisted
	}
	return found, nil
}

// NextAnchor jumps to the first anchor after the current position.
func (s *Session) NextAnchor() (timeline.Anchor, clock.Status, error) {
	position := s.clock.Position()

	s.mu.Lock()
	next, ok := s.anchors.NextAfter(position)
	s.mu.Unlock()
	if !ok {
		return timeline.Anchor{}, clock.Ignored, nil
	}

	status, err := s.clock.Jump(next.Position)
	return next, status, err
}

// PrevAnchor jumps to the anchor before the current position, looking back
// PrevLookback seconds.
func (s *Session) PrevAnchor() (timeline.Anchor, clock.Status, error) {
	position := s.clock.Position()

	s.mu.Lock()
	prev, ok := s.anchors.PrevBefore(position - PrevLookback)
	s.mu.Unlock()
	if !ok {
		return timeline.Anchor{}, clock.Ignored, nil
	}

	status, err := s.clock.Jump(prev.Position)
	return prev, status, err
}

func (s *Session) Forward() (clock.Status, error) {
	return s.clock.SeekRelative(SkipSeconds)
}

func (s *Session) Rewind() (clock.Status, error) {
	return s.clock.SeekRelative(-SkipSeconds)
}

func (s *Session) Seek(fraction float64) (clock.Status, error) {
	return s.clock.SeekAbsolute(fraction)
}

func (s *Session) BeginDrag() clock.Status {
	return s.clock.BeginDrag()
}

func (s *Session) EndDrag(fraction float64) (clock.Status, error) {
	return s.clock.EndDrag(fraction)
}

// Tick advances the clock by the elapsed wall time.
func (s *Session) Tick() clock.Status {
	return s.clock.Advance()
}

func (s *Session) Snapshot() Snapshot {
	state := s.clock.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	views := make([]AnchorView, 0, s.anchors.Len())
	for a := range s.anchors.All() {
		views = append(views, AnchorView{Anchor: a, Label: a.String()})
	}

	return Snapshot{
		ItemID:        s.itemID,
		Path:          s.path,
		Position:      state.Position,
		TotalLength:   state.TotalLength,
		PositionLabel: timeline.FormatDuration(state.Position),
		TotalLabel:    timeline.FormatDuration(state.TotalLength),
		Playing:       state.Playing,
		Paused:        state.Paused,
		Dragging:      state.Dragging,
		Anchors:       views,
	}
}

// Run ticks the clock every interval until ctx is done. Ticks never overlap.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = TickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ticks := 0
	for {
		select {
		case <-ticker.C:
			if s.Tick() != clock.Applied {
				continue
			}
			ticks++
			if ticks%resumeEveryTicks == 0 {
				s.saveResume(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Close persists the resume point of the loaded item and unloads it.
func (s *Session) Close(ctx context.Context) error {
	err := s.saveResumeErr(ctx)

	s.mu.Lock()
	s.itemID = ""
	s.path = ""
	s.anchors = timeline.New()
	s.mu.Unlock()
	s.clock.Unload()
	return err
}

func (s *Session) saveResume(ctx context.Context) {
	if err := s.saveResumeErr(ctx); err != nil {
		log.Printf("level=warn msg=\"save resume point failed\" err=%v", err)
	}
}

func (s *Session) saveResumeErr(ctx context.Context) error {
	if s.resume == nil {
		return nil
	}
	s.mu.Lock()
	id := s.itemID
	s.mu.Unlock()
	if id == "" {
		return nil
	}
	state := s.clock.Snapshot()
	if err := s.resume.SaveResume(ctx, id, state.Position, state.TotalLength); err != nil {
		return fmt.Errorf("session: save resume point for %s: %w", id, err)
	}
	return nil
}
