package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// seekTolerance is how far a seek target may be from the estimated playback
// offset before ffplay is restarted.
const seekTolerance = 0.25

var errNoTrack = errors.New("ffmpeg: no track loaded")

type process interface {
	Kill() error
}

type launchFunc func(name string, args []string) (process, error)

// Player drives an ffplay child process. ffplay has no control channel, so
// every offset change restarts it with -ss and Pause stops it.
type Player struct {
	ffplay string
	probe  func(ctx context.Context, path string) (float64, error)
	launch launchFunc
	now    func() time.Time

	mu        sync.Mutex
	path      string
	proc      process
	offset    float64
	startedAt time.Time
}

func NewPlayer(ffplayPath, ffprobePath string) *Player {
	return &Player{
		ffplay: ffplayPath,
		probe:  Prober{Path: ffprobePath}.ProbeDuration,
		launch: launchProcess,
		now:    time.Now,
	}
}

// LoadTrack stops any playback, probes path and makes it the current track.
func (p *Player) LoadTrack(ctx context.Context, path string) (float64, error) {
	total, err := p.probe(ctx, path)
	if err != nil {
		return 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.path = path
	p.offset = 0
	return total, nil
}

func (p *Player) Play(offset float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(offset)
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		return nil
	}
	p.offset = p.estimateLocked()
	p.stopLocked()
	return nil
}

// Resume starts ffplay at offset. A running process is kept when it is
// already close to offset.
func (p *Player) Resume(offset float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc != nil && math.Abs(p.estimateLocked()-offset) <= seekTolerance {
		return nil
	}
	return p.startLocked(offset)
}

// Seek moves playback to offset. While stopped it only records the offset.
func (p *Player) Seek(offset float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.proc == nil {
		p.offset = max(offset, 0)
		return nil
	}
	if math.Abs(p.estimateLocked()-offset) <= seekTolerance {
		return nil
	}
	return p.startLocked(offset)
}

// Close stops playback.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *Player) startLocked(offset float64) error {
	if p.path == "" {
		return errNoTrack
	}
	p.stopLocked()

	offset = max(offset, 0)
	proc, err := p.launch(p.ffplay, playArgs(p.path, offset))
	if err != nil {
		return fmt.Errorf("ffmpeg: start ffplay: %w", err)
	}
	p.proc = proc
	p.offset = offset
	p.startedAt = p.now()
	return nil
}

func (p *Player) stopLocked() {
	if p.proc == nil {
		return
	}
	if err := p.proc.Kill(); err != nil {
		log.Printf("level=warn msg=\"stop ffplay failed\" err=%v", err)
	}
	p.proc = nil
}

func (p *Player) estimateLocked() float64 {
	if p.proc == nil {
		return p.offset
	}
	return p.offset + p.now().Sub(p.startedAt).Seconds()
}

func playArgs(path string, offset float64) []string {
	return []string{
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		path,
	}
}

type execProcess struct {
	cmd *exec.Cmd
}

func (e execProcess) Kill() error {
	err := e.cmd.Process.Kill()
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func launchProcess(name string, args []string) (process, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	// reap
	go func() { _ = cmd.Wait() }()
	return execProcess{cmd: cmd}, nil
}
