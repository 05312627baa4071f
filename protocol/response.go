package protocol

import "fmt"

// ResponseKind identifies a Response variant. Its value is the variant tag on the wire.
type ResponseKind uint8

const (
	ResponseKeyState ResponseKind = iota + 1
	ResponseTiming
	ResponseResize
	ResponsePointer
)

func (k ResponseKind) String() string {
	switch k {
	case ResponseKeyState:
		return "key_state"
	case ResponseTiming:
		return "timing"
	case ResponseResize:
		return "resize"
	case ResponsePointer:
		return "pointer"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// Response is host to guest data. The set of implementations is closed.
type Response interface {
	Kind() ResponseKind
	response()
}

// KeyState reports a key transition.
type KeyState struct {
	Key     Key
	Pressed bool
}

// Timing reports the duration of the last frame and the total run time, in seconds.
type Timing struct {
	Delta   float64
	Elapsed float64
}

// Resize reports new surface dimensions in pixels.
type Resize struct {
	Width  uint32
	Height uint32
}

// Pointer reports the pointer position and the pressed buttons bitmask.
type Pointer struct {
	Pos     [2]float32
	Buttons uint32
}

func (KeyState) Kind() ResponseKind { return ResponseKeyState }
func (Timing) Kind() ResponseKind   { return ResponseTiming }
func (Resize) Kind() ResponseKind   { return ResponseResize }
func (Pointer) Kind() ResponseKind  { return ResponsePointer }

func (KeyState) response() {}
func (Timing) response()   {}
func (Resize) response()   {}
func (Pointer) response()  {}
