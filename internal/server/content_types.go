package server

import (
	"path/filepath"
	"strings"
)

const (
	jsonContentType = "application/json; charset=utf-8"
	textContentType = "text/plain; charset=utf-8"
)

var audioContentTypes = map[string]string{
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".m4b":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
}

func audioContentType(path string) string {
	return audioContentTypes[strings.ToLower(filepath.Ext(path))]
}
