package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/treefix50/anchorplay/internal/ffmpeg"
	"github.com/treefix50/anchorplay/internal/server"
	"github.com/treefix50/anchorplay/internal/session"
	"github.com/treefix50/anchorplay/internal/storage"
)

func main() {
	var (
		root       = flag.String("root", "./media", "media root directory")
		addr       = flag.String("addr", ":8080", "listen address")
		dbPath     = flag.String("db", "anchorplay.db", "sqlite database path")
		legacyJSON = flag.String("legacy-json", "anchor.json", "anchor.json to import on startup (empty to skip)")
		tick       = flag.Duration("tick", session.TickInterval, "playback clock tick interval")
		tools      = flag.String("tools", ".", "base directory searched for tools/ffmpeg")
		cors       = flag.Bool("cors", false, "send permissive CORS headers")
		readOnly   = flag.Bool("read-only", false, "open the database read-only")
		backup     = flag.String("backup", "", "write a compacted copy of the database to this path and exit")
	)
	flag.Parse()

	opts := storage.DefaultOptions()
	opts.ReadOnly = *readOnly
	store, err := storage.Open(*dbPath, opts)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if *backup != "" {
		if err := store.Vacuum(*backup); err != nil {
			log.Fatal(err)
		}
		log.Printf("level=info msg=\"database backup written\" path=%s", *backup)
		return
	}

	if results, err := store.IntegrityCheck(); err != nil {
		log.Printf("level=warn msg=\"integrity check failed\" err=%v", err)
	} else if len(results) != 1 || results[0] != "ok" {
		log.Printf("level=warn msg=\"database integrity problems\" results=%q", results)
	}

	ctx := context.Background()
	if *legacyJSON != "" && !store.ReadOnly() {
		res, err := store.ImportLegacyJSON(ctx, *legacyJSON)
		if err != nil {
			log.Printf("level=warn msg=\"legacy anchor import failed\" path=%s err=%v", *legacyJSON, err)
		} else if len(res.Imported) > 0 || len(res.Skipped) > 0 {
			log.Printf("level=info msg=\"legacy anchors imported\" imported=%d skipped=%d", len(res.Imported), len(res.Skipped))
		}
	}

	baseDir, err := filepath.Abs(*tools)
	if err != nil {
		log.Fatal(err)
	}
	ffprobe, err := ffmpeg.Locate(baseDir, "ffprobe")
	if err != nil {
		log.Fatal(err)
	}
	ffplay, err := ffmpeg.Locate(baseDir, "ffplay")
	if err != nil {
		log.Fatal(err)
	}

	player := ffmpeg.NewPlayer(ffplay, ffprobe)
	defer player.Close()

	sess := session.New(player, store, session.WithResumeStore(store))

	s, err := server.New(ctx, server.Options{
		Root:         *root,
		Addr:         *addr,
		CORS:         *cors,
		TickInterval: *tick,
	}, store, ffmpeg.Prober{Path: ffprobe}, sess)
	if err != nil {
		log.Fatal(err)
	}

	// graceful-ish stop
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		log.Println("shutting down...")
		if err := s.Close(); err != nil {
			log.Printf("level=warn msg=\"shutdown incomplete\" err=%v", err)
		}
	}()

	log.Printf("AnchorPlay listening on http://localhost%s (root=%s)\n", *addr, *root)
	if err := s.Start(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	<-closed
}
