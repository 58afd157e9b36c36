package server

import (
	"net/http"
	"os"
	"path/filepath"
)

// ServeAudioFile streams an audio file with Range support so browser players
// can seek.
func ServeAudioFile(w http.ResponseWriter, r *http.Request, path string) {
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		http.Error(w, "file stat failed", http.StatusInternalServerError)
		return
	}

	if ct := audioContentType(path); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	// ServeContent supports Range if the reader is seekable (os.File is).
	http.ServeContent(w, r, filepath.Base(path), st.ModTime(), f)
}
