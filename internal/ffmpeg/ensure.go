package ffmpeg

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// DirEnv overrides the directory searched for the ffmpeg tools.
const DirEnv = "ANCHORPLAY_FFMPEG_DIR"

// Locate finds an ffmpeg tool (ffprobe, ffplay). The DirEnv directory wins,
// then <baseDir>/tools/ffmpeg, then PATH.
func Locate(baseDir, name string) (string, error) {
	var dirs []string
	if dir := os.Getenv(DirEnv); dir != "" {
		dirs = append(dirs, dir)
	}
	if baseDir != "" {
		dirs = append(dirs, filepath.Join(baseDir, "tools", "ffmpeg"))
	}

	for _, dir := range dirs {
		local := filepath.Join(dir, exe(name))
		if fileExists(local) {
			return local, nil
		}
	}
	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("ffmpeg: %s not found in PATH or %v", name, dirs)
}

func exe(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
