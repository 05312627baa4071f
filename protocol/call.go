package protocol

import "fmt"

// CallKind identifies a Call variant. Its value is the variant tag on the wire.
type CallKind uint8

const (
	CallPrint CallKind = iota + 1
	CallPresent
	CallClear
	CallDraw
	CallPlaySound
	CallLog
)

func (k CallKind) String() string {
	switch k {
	case CallPrint:
		return "print"
	case CallPresent:
		return "present"
	case CallClear:
		return "clear"
	case CallDraw:
		return "draw"
	case CallPlaySound:
		return "play_sound"
	case CallLog:
		return "log"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Call is a guest to host request. The set of implementations is closed.
type Call interface {
	Kind() CallKind
	call()
}

// Print writes a line of text to the host console.
type Print struct {
	Text string
}

// Present marks the end of a frame.
type Present struct{}

// Clear fills the render target with a color (RGBA, 0..1).
type Clear struct {
	Color [4]float32
}

// Draw renders a texture. A zero Scale is treated by renderers as {1, 1}.
type Draw struct {
	Texture  string
	Pos      [2]float32
	Rotation float32
	Scale    [2]float32
}

// PlaySound starts playback of a named sound.
type PlaySound struct {
	Name   string
	Volume float32
}

// Log carries a structured guest log record. Level uses log/slog level values.
// Empty and nil Fields encode alike and decode as nil.
type Log struct {
	Level   int32
	Message string
	Fields  map[string]string
}

func (Print) Kind() CallKind     { return CallPrint }
func (Present) Kind() CallKind   { return CallPresent }
func (Clear) Kind() CallKind     { return CallClear }
func (Draw) Kind() CallKind      { return CallDraw }
func (PlaySound) Kind() CallKind { return CallPlaySound }
func (Log) Kind() CallKind       { return CallLog }

func (Print) call()     {}
func (Present) call()   {}
func (Clear) call()     {}
func (Draw) call()      {}
func (PlaySound) call() {}
func (Log) call()       {}
