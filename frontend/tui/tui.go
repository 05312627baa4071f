// Package tui implements a terminal frontend on bubbletea. Textures are drawn
// as single characters on a grid of 8x16 pixel cells.
package tui

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/vg-engine/vg/frontend"
	"github.com/vg-engine/vg/protocol"
)

var _ frontend.Frontend = (*Frontend)(nil)

// ErrNotTerminal is returned by New when the output is not a terminal.
var ErrNotTerminal = errors.New("tui: output is not a terminal")

// Frontend renders in the terminal. Start it before the first frame and
// Close it when done.
type Frontend struct {
	program *tea.Program
	input   *keyboard

	mu      sync.Mutex
	pending frameMsg

	done chan struct{}
	err  error
}

type options struct {
	in      io.Reader
	out     io.Writer
	hold    time.Duration
	noCheck bool
}

// Option configures a Frontend.
type Option func(*options)

// WithIO runs the program on in and out instead of the process terminal.
// No terminal check is made.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(o *options) {
		o.in, o.out, o.noCheck = in, out, true
	}
}

// WithKeyHold sets how long a key counts as held after its last repeat.
func WithKeyHold(d time.Duration) Option {
	return func(o *options) { o.hold = d }
}

// IsTerminal reports whether fd refers to a terminal.
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// New returns a Frontend for the process terminal.
func New(opts ...Option) (*Frontend, error) {
	o := options{hold: defaultHold}
	for _, opt := range opts {
		opt(&o)
	}

	var teaOpts []tea.ProgramOption
	if o.noCheck {
		teaOpts = append(teaOpts, tea.WithInput(o.in), tea.WithOutput(o.out))
	} else {
		if !IsTerminal(os.Stdout.Fd()) {
			return nil, ErrNotTerminal
		}
		teaOpts = append(teaOpts, tea.WithAltScreen(), tea.WithMouseCellMotion())
	}

	input := newKeyboard(o.hold, time.Now)
	return &Frontend{
		program: tea.NewProgram(newModel(input), teaOpts...),
		input:   input,
		done:    make(chan struct{}),
	}, nil
}

// Start runs the terminal program in the background.
func (f *Frontend) Start() {
	go func() {
		defer close(f.done)
		_, err := f.program.Run()
		if errors.Is(err, tea.ErrProgramKilled) {
			err = nil
		}
		f.err = err
	}()
}

// Done is closed when the terminal program exits, for example because the
// user quit.
func (f *Frontend) Done() <-chan struct{} {
	return f.done
}

// Close stops the terminal program and restores the terminal.
func (f *Frontend) Close() error {
	f.program.Quit()
	<-f.done
	return f.err
}

func (f *Frontend) Clear(color [4]float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending.clear = &color
}

func (f *Frontend) Draw(d protocol.Draw) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending.draws = append(f.pending.draws, d)
}

func (f *Frontend) Present() error {
	f.mu.Lock()
	frame := f.pending
	f.pending = frameMsg{}
	f.mu.Unlock()

	select {
	case <-f.done:
		return f.err
	default:
	}
	f.program.Send(frame)
	return nil
}

func (f *Frontend) Play(name string, volume float32) {
	f.program.Send(soundMsg(name))
}

func (f *Frontend) Print(text string) {
	f.program.Send(printMsg(ansi.Strip(text)))
}

func (f *Frontend) Poll() []protocol.Response {
	return f.input.poll()
}
