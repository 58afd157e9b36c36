package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/treefix50/anchorplay/internal/clock"
	"github.com/treefix50/anchorplay/internal/session"
	"github.com/treefix50/anchorplay/internal/timeline"
)

const scanInterval = 10 * time.Minute

// Options configures a Server.
type Options struct {
	Root         string
	Addr         string
	CORS         bool
	TickInterval time.Duration
}

type Server struct {
	addr    string
	lib     *Library
	store   MediaStore
	session *session.Session
	http    *http.Server

	stop     context.CancelFunc
	runDone  chan struct{}
	scanStop chan struct{}
}

func New(ctx context.Context, opts Options, store MediaStore, prober Prober, sess *session.Session) (*Server, error) {
	lib, err := NewLibrary(ctx, opts.Root, store, prober)
	if err != nil {
		return nil, err
	}
	// initial scan
	if err := lib.Scan(ctx); err != nil {
		log.Printf("level=warn msg=\"initial scan incomplete\" root=%s err=%v", opts.Root, err)
	}

	s := &Server{
		addr:    opts.Addr,
		lib:     lib,
		store:   store,
		session: sess,
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	s.runDone = make(chan struct{})
	go func() {
		defer close(s.runDone)
		sess.Run(runCtx, opts.TickInterval)
	}()

	if scanInterval > 0 {
		s.scanStop = make(chan struct{})
		go s.runScanTicker(runCtx)
	}

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           logMiddleware(s.routes(), opts.CORS),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/library", s.handleLibrary)
	mux.HandleFunc("/items/", s.handleItems)
	mux.HandleFunc("/session", s.handleSession)
	mux.HandleFunc("/session/", s.handleSession)
	return mux
}

func (s *Server) Start() error { return s.http.ListenAndServe() }

// Close stops the tick loop, persists the resume point and shuts the HTTP
// server down.
func (s *Server) Close() error {
	s.stopScanTicker()
	s.stop()
	<-s.runDone

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return errors.Join(s.session.Close(ctx), s.http.Shutdown(ctx))
}

func (s *Server) runScanTicker(ctx context.Context) {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.lib.Scan(ctx); err != nil {
				log.Printf("level=warn msg=\"periodic scan failed\" err=%v", err)
			}
		case <-s.scanStop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) stopScanTicker() {
	if s.scanStop == nil {
		return
	}
	close(s.scanStop)
	s.scanStop = nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", textContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// LibraryEntry is a library item with its bookmark and resume summary.
type LibraryEntry struct {
	MediaItem
	ItemID        string  `json:"itemId"`
	SizeLabel     string  `json:"sizeLabel"`
	ModifiedLabel string  `json:"modifiedLabel"`
	DurationLabel string  `json:"durationLabel"`
	Anchors       int     `json:"anchors"`
	ResumeAt      float64 `json:"resumeAt,omitempty"`
	ResumeLabel   string  `json:"resumeLabel,omitempty"`
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	items := s.lib.All()
	if scanned := s.lib.LastScan(); !scanned.IsZero() {
		w.Header().Set("Last-Modified", scanned.UTC().Format(http.TimeFormat))
	}
	counts := map[string]int{}
	if s.store != nil {
		c, err := s.store.CountAnchors(r.Context())
		if err != nil {
			log.Printf("level=warn msg=\"anchor counts unavailable\" err=%v", err)
		} else {
			counts = c
		}
	}

	out := make([]LibraryEntry, 0, len(items))
	for _, item := range items {
		itemID := session.ItemID(item.Path)
		entry := LibraryEntry{
			MediaItem:     item,
			ItemID:        itemID,
			SizeLabel:     humanize.Bytes(uint64(item.Size)),
			ModifiedLabel: humanize.Time(item.Modified),
			DurationLabel: timeline.FormatDuration(item.DurationSeconds),
			Anchors:       counts[itemID],
		}
		if s.store != nil {
			if at, ok, err := s.store.LoadResume(r.Context(), itemID); err == nil && ok && at > 0 {
				entry.ResumeAt = at
				entry.ResumeLabel = timeline.FormatDuration(at)
			}
		}
		out = append(out, entry)
	}
	writeJSON(w, out)
}

// Routes under /items/{id}[/{action}]
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/items/")
	parts := strings.Split(path, "/")
	if len(parts) < 1 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	item, ok := s.lib.Get(r.Context(), parts[0])
	if !ok {
		http.NotFound(w, r)
		return
	}

	action := ""
	if len(parts) >= 2 {
		action = parts[1]
	}
	switch action {
	case "":
		writeJSON(w, item)
	case "stream":
		ServeAudioFile(w, r, item.Path)
	default:
		http.NotFound(w, r)
	}
}

// Routes under /session[/{action}...]
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/session"), "/")
	ctx := r.Context()

	switch {
	case action == "" && r.Method == http.MethodGet:
		writeJSON(w, s.session.Snapshot())

	case action == "load" && r.Method == http.MethodPost:
		s.handleLoad(w, r)

	case action == "toggle" && r.Method == http.MethodPost:
		status, err := s.session.TogglePlay(ctx)
		s.writeResult(w, status, err)

	case action == "forward" && r.Method == http.MethodPost:
		status, err := s.session.Forward()
		s.writeResult(w, status, err)

	case action == "rewind" && r.Method == http.MethodPost:
		status, err := s.session.Rewind()
		s.writeResult(w, status, err)

	case action == "seek" && r.Method == http.MethodPost:
		fraction, ok := decodeFraction(w, r)
		if !ok {
			return
		}
		status, err := s.session.Seek(fraction)
		s.writeResult(w, status, err)

	case action == "drag/begin" && r.Method == http.MethodPost:
		s.writeResult(w, s.session.BeginDrag(), nil)

	case action == "drag/end" && r.Method == http.MethodPost:
		fraction, ok := decodeFraction(w, r)
		if !ok {
			return
		}
		status, err := s.session.EndDrag(fraction)
		s.writeResult(w, status, err)

	case action == "anchors" && r.Method == http.MethodPost:
		anchor, err := s.session.AddAnchor(ctx)
		if err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSONStatus(w, http.StatusCreated, session.AnchorView{Anchor: anchor, Label: anchor.String()})

	case action == "anchors" && r.Method == http.MethodDelete:
		anchor, err := s.session.DeleteNearestAnchor(ctx)
		if err != nil && !errors.Is(err, session.ErrOffsetNotPersisted) {
			s.writeSessionError(w, err)
			return
		}
		if err != nil {
			log.Printf("level=warn msg=\"anchor deleted in memory only\" offset=%v", anchor.Position)
		}
		writeJSON(w, session.AnchorView{Anchor: anchor, Label: anchor.String()})

	case action == "anchors/next" && r.Method == http.MethodPost:
		_, status, err := s.session.NextAnchor()
		s.writeResult(w, status, err)

	case action == "anchors/prev" && r.Method == http.MethodPost:
		_, status, err := s.session.PrevAnchor()
		s.writeResult(w, status, err)

	case action == "" || action == "load" || action == "toggle" || action == "forward" ||
		action == "rewind" || action == "seek" || strings.HasPrefix(action, "drag/") ||
		strings.HasPrefix(action, "anchors"):
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID   string `json:"id"`
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	path := payload.Path
	if payload.ID != "" {
		item, ok := s.lib.Get(r.Context(), payload.ID)
		if !ok {
			http.NotFound(w, r)
			return
		}
		path = item.Path
	}
	if path == "" {
		http.Error(w, "id or path is required", http.StatusBadRequest)
		return
	}
	if st, err := os.Stat(path); err != nil || st.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	if err := s.session.Load(r.Context(), path); err != nil {
		log.Printf("level=error msg=\"load failed\" path=%q err=%v", path, err)
		http.Error(w, "load failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.session.Snapshot())
}

// writeResult answers a clock operation with the fresh snapshot. Ignored
// operations are not errors; the status tells the UI nothing changed.
func (s *Server) writeResult(w http.ResponseWriter, status clock.Status, err error) {
	if err != nil {
		log.Printf("level=warn msg=\"audio engine call failed\" err=%v", err)
	}
	writeJSON(w, struct {
		Status  string           `json:"status"`
		Session session.Snapshot `json:"session"`
	}{
		Status:  status.String(),
		Session: s.session.Snapshot(),
	})
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNothingToDelete), errors.Is(err, session.ErrNoItem):
		writeJSONStatus(w, http.StatusConflict, map[string]string{"warning": err.Error()})
	default:
		log.Printf("level=error msg=\"session operation failed\" err=%v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func decodeFraction(w http.ResponseWriter, r *http.Request) (float64, bool) {
	var payload struct {
		Fraction *float64 `json:"fraction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Fraction == nil {
		http.Error(w, "fraction is required", http.StatusBadRequest)
		return 0, false
	}
	return *payload.Fraction, true
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
