package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned when a Call or Response cannot be decoded.
var ErrMalformedMessage = errors.New("malformed message")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}
