// Package headless implements a frontend that records what a guest asks for
// and logs it, without any window, terminal or sound device.
package headless

import (
	"fmt"
	"io"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/vg-engine/vg/frontend"
	"github.com/vg-engine/vg/protocol"
)

var _ frontend.Frontend = (*Frontend)(nil)

// Frame is one presented frame.
type Frame struct {
	// Clear is the last clear color of the frame, if any.
	Clear *[4]float32
	Draws []protocol.Draw
}

// Frontend is safe for concurrent use. Clears and draws up to a Present form
// one frame, so sessions sharing a Frontend must hand over each frame under
// one lock, as the engine does.
type Frontend struct {
	logger  *zap.Logger
	console io.Writer
	keep    int

	mu      sync.Mutex
	current Frame
	frames  []Frame
	sounds  []protocol.PlaySound
	printed []string
	input   []protocol.Response
	count   uint64
}

// Option configures a Frontend.
type Option func(*Frontend)

// WithLogger logs presented frames and sounds to logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Frontend) { f.logger = logger }
}

// WithConsole writes guest Print output, one line per call, to w.
func WithConsole(w io.Writer) Option {
	return func(f *Frontend) { f.console = w }
}

// WithHistory retains at most n presented frames. n <= 0 retains all of them.
func WithHistory(n int) Option {
	return func(f *Frontend) { f.keep = n }
}

// New returns a headless Frontend.
func New(opts ...Option) *Frontend {
	f := &Frontend{logger: zap.NewNop(), keep: 256}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Frontend) Clear(color [4]float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.Clear = &color
}

func (f *Frontend) Draw(d protocol.Draw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current.Draws = append(f.current.Draws, d)
}

func (f *Frontend) Present() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.count++
	f.logger.Debug("frame presented",
		zap.Uint64("frame", f.count),
		zap.Int("draws", len(f.current.Draws)),
	)
	f.frames = append(f.frames, f.current)
	if f.keep > 0 && len(f.frames) > f.keep {
		f.frames = slices.Delete(f.frames, 0, len(f.frames)-f.keep)
	}
	f.current = Frame{}
	return nil
}

func (f *Frontend) Play(name string, volume float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logger.Info("sound", zap.String("name", name), zap.Float32("volume", volume))
	f.sounds = append(f.sounds, protocol.PlaySound{Name: name, Volume: volume})
}

func (f *Frontend) Print(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.printed = append(f.printed, text)
	if f.console != nil {
		fmt.Fprintln(f.console, text)
	}
}

// Poll returns the responses queued with Inject since the previous Poll.
func (f *Frontend) Poll() []protocol.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := f.input
	f.input = nil
	return in
}

// Inject queues responses for the next Poll, as if a user had produced them.
func (f *Frontend) Inject(rs ...protocol.Response) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, rs...)
}

// Frames returns the retained presented frames, oldest first.
func (f *Frontend) Frames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.frames)
}

// Presented returns the number of frames presented so far.
func (f *Frontend) Presented() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Sounds returns every sound played so far.
func (f *Frontend) Sounds() []protocol.PlaySound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sounds)
}

// Printed returns every line printed so far.
func (f *Frontend) Printed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.printed)
}
