package server

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// MediaItem is an audio file found under the library root.
type MediaItem struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Path            string    `json:"path"`
	Size            int64     `json:"size"`
	Modified        time.Time `json:"modified"`
	DurationSeconds float64   `json:"durationSeconds,omitempty"`
}

// Prober reports the length of an audio file in seconds.
type Prober interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
}

var audioExtensions = map[string]bool{
	".flac": true,
	".m4a":  true,
	".m4b":  true,
	".mp3":  true,
	".oga":  true,
	".ogg":  true,
	".opus": true,
	".wav":  true,
}

type Library struct {
	root   string
	store  MediaStore
	prober Prober

	mu    sync.RWMutex
	items map[string]MediaItem
	// lastScan tracks the time the library last completed a scan.
	lastScan time.Time
}

func NewLibrary(ctx context.Context, root string, store MediaStore, prober Prober) (*Library, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	items := map[string]MediaItem{}
	if store != nil {
		storedItems, err := store.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, item := range storedItems {
			items[item.ID] = item
		}
	}
	return &Library{
		root:   root,
		store:  store,
		prober: prober,
		items:  items,
	}, nil
}

// Scan walks the root for audio files, probes the length of new or changed
// files and syncs the result to the store.
func (l *Library) Scan(ctx context.Context) error {
	found := map[string]MediaItem{}
	var scanErrs []error

	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			scanErrs = append(scanErrs, err)
			return nil // skip unreadable entries
		}
		if d.IsDir() {
			return nil
		}
		if !audioExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			scanErrs = append(scanErrs, err)
			return nil
		}

		id := stableID(path)
		found[id] = MediaItem{
			ID:       id,
			Title:    strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			Path:     path,
			Size:     info.Size(),
			Modified: info.ModTime(),
		}
		return nil
	})
	if err != nil {
		scanErrs = append(scanErrs, err)
	}

	l.mu.RLock()
	previous := l.items
	l.mu.RUnlock()

	l.probe(ctx, found, previous)

	l.mu.Lock()
	l.items = found
	l.lastScan = time.Now()
	l.mu.Unlock()

	if l.store != nil && !l.store.ReadOnly() {
		if ids := removedIDs(previous, found); len(ids) > 0 {
			if err := l.store.DeleteItems(ctx, ids); err != nil {
				scanErrs = append(scanErrs, err)
			}
		}
		if changed := changedItems(found, previous); len(changed) > 0 {
			if err := l.store.SaveItems(ctx, changed); err != nil {
				scanErrs = append(scanErrs, err)
			}
		}
	}

	return errors.Join(scanErrs...)
}

// probe fills DurationSeconds, reusing the previous value for unchanged
// files and probing the rest concurrently.
func (l *Library) probe(ctx context.Context, found, previous map[string]MediaItem) {
	var pending []string
	for id, item := range found {
		if prev, ok := previous[id]; ok && prev.DurationSeconds > 0 && sameFile(prev, item) {
			item.DurationSeconds = prev.DurationSeconds
			found[id] = item
			continue
		}
		pending = append(pending, id)
	}
	if l.prober == nil || len(pending) == 0 {
		return
	}

	durations := make([]float64, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i, id := range pending {
		path := found[id].Path
		g.Go(func() error {
			d, err := l.prober.ProbeDuration(gctx, path)
			if err != nil {
				log.Printf("level=warn msg=\"probe failed\" path=%q err=%v", path, err)
				return nil
			}
			durations[i] = d
			return nil
		})
	}
	_ = g.Wait()

	for i, id := range pending {
		item := found[id]
		item.DurationSeconds = durations[i]
		found[id] = item
	}
}

func (l *Library) All() []MediaItem {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]MediaItem, 0, len(l.items))
	for _, it := range l.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

func (l *Library) Get(ctx context.Context, id string) (MediaItem, bool) {
	l.mu.RLock()
	it, ok := l.items[id]
	l.mu.RUnlock()
	if ok {
		return it, true
	}

	if l.store != nil {
		item, ok, err := l.store.GetByID(ctx, id)
		if err == nil && ok {
			return item, true
		}
	}
	return MediaItem{}, false
}

func (l *Library) LastScan() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastScan
}

func changedItems(found, previous map[string]MediaItem) []MediaItem {
	out := make([]MediaItem, 0, len(found))
	for id, item := range found {
		prev, ok := previous[id]
		if !ok || !sameFile(item, prev) || item.DurationSeconds != prev.DurationSeconds {
			out = append(out, item)
		}
	}
	return out
}

func removedIDs(previous, found map[string]MediaItem) []string {
	out := make([]string, 0, len(previous))
	for id := range previous {
		if _, ok := found[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

func sameFile(a, b MediaItem) bool {
	return a.Path == b.Path &&
		a.Size == b.Size &&
		a.Modified.Unix() == b.Modified.Unix()
}

func stableID(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8]) // short but stable
}
