package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/treefix50/anchorplay/internal/clock"
	"github.com/treefix50/anchorplay/internal/session"
)

type fakeEngine struct {
	total float64
}

func (e *fakeEngine) LoadTrack(ctx context.Context, path string) (float64, error) {
	return e.total, nil
}
func (e *fakeEngine) Play(offset float64) error { return nil }
func (e *fakeEngine) Pause() error              { return nil }
func (e *fakeEngine) Resume(float64) error      { return nil }
func (e *fakeEngine) Seek(offset float64) error { return nil }

type fakeProber struct{}

func (fakeProber) ProbeDuration(ctx context.Context, path string) (float64, error) {
	return 120, nil
}

// memStore backs both the library and the session in tests.
type memStore struct {
	mu      sync.Mutex
	items   map[string]MediaItem
	offsets map[string][]float64
	resume  map[string]float64
}

func newMemStore() *memStore {
	return &memStore{
		items:   map[string]MediaItem{},
		offsets: map[string][]float64{},
		resume:  map[string]float64{},
	}
}

func (m *memStore) ReadOnly() bool { return false }

func (m *memStore) SaveItems(ctx context.Context, items []MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		m.items[item.ID] = item
	}
	return nil
}

func (m *memStore) DeleteItems(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.items, id)
	}
	return nil
}

func (m *memStore) GetAll(ctx context.Context) ([]MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MediaItem, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item)
	}
	return out, nil
}

func (m *memStore) GetByID(ctx context.Context, id string) (MediaItem, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	return item, ok, nil
}

func (m *memStore) CountAnchors(ctx context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int{}
	for id, offsets := range m.offsets {
		out[id] = len(offsets)
	}
	return out, nil
}

func (m *memStore) LoadOffsets(ctx context.Context, itemID string) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.offsets[itemID]), nil
}

func (m *memStore) SaveOffsets(ctx context.Context, itemID string, offsets []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[itemID] = slices.Clone(offsets)
	return nil
}

func (m *memStore) DeleteOffset(ctx context.Context, itemID string, offset float64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := slices.Index(m.offsets[itemID], offset)
	if i < 0 {
		return false, nil
	}
	m.offsets[itemID] = slices.Delete(m.offsets[itemID], i, i+1)
	return true, nil
}

func (m *memStore) SaveResume(ctx context.Context, itemID string, position, total float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resume[itemID] = position
	return nil
}

func (m *memStore) LoadResume(ctx context.Context, itemID string) (float64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.resume[itemID]
	return p, ok, nil
}

type testEnv struct {
	srv     *Server
	store   *memStore
	root    string
	handler http.Handler
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "lecture.mp3"), []byte("ID3 fake audio"), 0o644); err != nil {
		t.Fatalf("write media: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	store := newMemStore()
	fixed := time.Unix(1700000000, 0)
	sess := session.New(&fakeEngine{total: 120}, store,
		session.WithResumeStore(store),
		session.WithClockOptions(clock.WithNow(func() time.Time { return fixed })),
	)

	srv, err := New(context.Background(), Options{Root: root, Addr: "127.0.0.1:0"}, store, fakeProber{}, sess)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })

	return &testEnv{srv: srv, store: store, root: root, handler: srv.http.Handler}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type resultBody struct {
	Status  string           `json:"status"`
	Session session.Snapshot `json:"session"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestServer(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestLibraryListing(t *testing.T) {
	env := newTestServer(t)
	if err := env.store.SaveOffsets(context.Background(), "lecture.mp3", []float64{10, 20}); err != nil {
		t.Fatalf("SaveOffsets() error = %v", err)
	}

	rec := env.do(t, http.MethodGet, "/library", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /library status = %d", rec.Code)
	}
	entries := decode[[]LibraryEntry](t, rec)
	if len(entries) != 1 {
		t.Fatalf("GET /library = %+v; want only the mp3", entries)
	}
	e := entries[0]
	if e.Title != "lecture" || e.ItemID != "lecture.mp3" || e.Anchors != 2 {
		t.Fatalf("library entry = %+v", e)
	}
	if e.DurationSeconds != 120 || e.DurationLabel != "00:02:00" {
		t.Fatalf("library duration = %v %q", e.DurationSeconds, e.DurationLabel)
	}
	if e.SizeLabel != "14 B" {
		t.Fatalf("library size label = %q", e.SizeLabel)
	}

	lastModified, err := http.ParseTime(rec.Header().Get("Last-Modified"))
	if err != nil {
		t.Fatalf("Last-Modified = %q: %v", rec.Header().Get("Last-Modified"), err)
	}
	if scanned := env.srv.lib.LastScan(); lastModified.Unix() != scanned.Unix() {
		t.Fatalf("Last-Modified = %v, want last scan %v", lastModified, scanned)
	}

	if len(env.store.items) != 1 {
		t.Fatalf("scan did not sync items to the store: %v", env.store.items)
	}
}

func TestSessionFlow(t *testing.T) {
	env := newTestServer(t)
	entries := decode[[]LibraryEntry](t, env.do(t, http.MethodGet, "/library", ""))

	rec := env.do(t, http.MethodPost, "/session/anchors", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("POST /session/anchors before load = %d, want 409", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/session/load", `{"id":"`+entries[0].ID+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /session/load = %d %s", rec.Code, rec.Body.String())
	}
	snap := decode[session.Snapshot](t, rec)
	if snap.ItemID != "lecture.mp3" || snap.TotalLength != 120 || len(snap.Anchors) != 1 || !snap.Anchors[0].Tail {
		t.Fatalf("snapshot after load = %+v", snap)
	}

	res := decode[resultBody](t, env.do(t, http.MethodPost, "/session/forward", ""))
	if res.Status != clock.Ignored.String() {
		t.Fatalf("forward before play status = %q, want ignored", res.Status)
	}

	res = decode[resultBody](t, env.do(t, http.MethodPost, "/session/toggle", ""))
	if res.Status != clock.Applied.String() || !res.Session.Playing {
		t.Fatalf("toggle = %+v", res)
	}

	res = decode[resultBody](t, env.do(t, http.MethodPost, "/session/seek", `{"fraction":0.25}`))
	if res.Session.Position != 30 {
		t.Fatalf("seek 0.25 position = %v, want 30", res.Session.Position)
	}

	rec = env.do(t, http.MethodPost, "/session/anchors", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /session/anchors = %d", rec.Code)
	}
	added := decode[session.AnchorView](t, rec)
	if added.Position != 30 || added.Label != "anchor 00:00:30" {
		t.Fatalf("added anchor = %+v", added)
	}
	if got, _ := env.store.LoadOffsets(context.Background(), "lecture.mp3"); !slices.Equal(got, []float64{30}) {
		t.Fatalf("stored offsets = %v, want [30]", got)
	}

	res = decode[resultBody](t, env.do(t, http.MethodPost, "/session/rewind", ""))
	if res.Session.Position != 25 {
		t.Fatalf("rewind position = %v, want 25", res.Session.Position)
	}

	res = decode[resultBody](t, env.do(t, http.MethodPost, "/session/anchors/next", ""))
	if res.Session.Position != 30 {
		t.Fatalf("next anchor position = %v, want 30", res.Session.Position)
	}

	rec = env.do(t, http.MethodDelete, "/session/anchors", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("DELETE /session/anchors = %d", rec.Code)
	}
	if deleted := decode[session.AnchorView](t, rec); deleted.Position != 30 {
		t.Fatalf("deleted anchor = %+v", deleted)
	}

	// Only the tail is left.
	rec = env.do(t, http.MethodDelete, "/session/anchors", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("DELETE /session/anchors on tail = %d, want 409", rec.Code)
	}
	warning := decode[map[string]string](t, rec)
	if warning["warning"] != session.ErrNothingToDelete.Error() {
		t.Fatalf("warning = %v", warning)
	}

	snap = decode[session.Snapshot](t, env.do(t, http.MethodGet, "/session", ""))
	if len(snap.Anchors) != 1 || snap.Anchors[0].Position != 120 {
		t.Fatalf("anchors after delete = %+v", snap.Anchors)
	}
}

func TestSessionDrag(t *testing.T) {
	env := newTestServer(t)
	path := filepath.Join(env.root, "lecture.mp3")
	if rec := env.do(t, http.MethodPost, "/session/load", `{"path":"`+path+`"}`); rec.Code != http.StatusOK {
		t.Fatalf("POST /session/load = %d", rec.Code)
	}

	res := decode[resultBody](t, env.do(t, http.MethodPost, "/session/drag/begin", ""))
	if !res.Session.Dragging {
		t.Fatalf("drag/begin did not set dragging: %+v", res.Session)
	}
	res = decode[resultBody](t, env.do(t, http.MethodPost, "/session/drag/end", `{"fraction":0.5}`))
	if res.Session.Dragging || res.Session.Position != 60 {
		t.Fatalf("drag/end = %+v", res.Session)
	}
}

func TestSessionBadRequests(t *testing.T) {
	env := newTestServer(t)

	tests := []struct {
		method, path, body string
		want               int
	}{
		{http.MethodPost, "/session/seek", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/session/load", `not json`, http.StatusBadRequest},
		{http.MethodPost, "/session/load", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/session/load", `{"id":"nope"}`, http.StatusNotFound},
		{http.MethodPost, "/session/load", `{"path":"/does/not/exist.mp3"}`, http.StatusNotFound},
		{http.MethodGet, "/session/toggle", ``, http.StatusMethodNotAllowed},
		{http.MethodPost, "/session/unknown", ``, http.StatusNotFound},
		{http.MethodGet, "/items/nope/stream", ``, http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := env.do(t, tt.method, tt.path, tt.body)
		if rec.Code != tt.want {
			t.Fatalf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestStreamSupportsRange(t *testing.T) {
	env := newTestServer(t)
	entries := decode[[]LibraryEntry](t, env.do(t, http.MethodGet, "/library", ""))

	req := httptest.NewRequest(http.MethodGet, "/items/"+entries[0].ID+"/stream", nil)
	req.Header.Set("Range", "bytes=0-2")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent || rec.Body.String() != "ID3" {
		t.Fatalf("ranged stream = %d %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("Content-Type = %q, want audio/mpeg", ct)
	}
}

func TestCloseStopsTickLoopBeforeSaving(t *testing.T) {
	env := newTestServer(t)
	path := filepath.Join(env.root, "lecture.mp3")
	if rec := env.do(t, http.MethodPost, "/session/load", `{"path":"`+path+`"}`); rec.Code != http.StatusOK {
		t.Fatalf("POST /session/load = %d", rec.Code)
	}
	env.do(t, http.MethodPost, "/session/toggle", "")
	env.do(t, http.MethodPost, "/session/seek", `{"fraction":0.5}`)

	if err := env.srv.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-env.srv.runDone:
	default:
		t.Fatalf("tick loop still running after Close()")
	}
	if at, ok, _ := env.store.LoadResume(context.Background(), "lecture.mp3"); !ok || at != 60 {
		t.Fatalf("resume point = %v, %v; want 60", at, ok)
	}
}
