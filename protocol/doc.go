// Package protocol defines the messages exchanged across the host/guest boundary
// and their binary encoding.
//
// A Call travels from the guest to the host and requests a host-side effect
// (printing, presenting a frame, drawing, playing a sound, logging). A Response
// travels from the host to the guest and carries input or timing data.
//
// Every message is encoded as a frame:
//
//	frame   = uvarint(len(body)) body
//	body    = tag(variant, bytes) uvarint(len(payload)) payload
//	payload = protobuf wire fields of the variant
//
// The outer length makes each frame self-describing, so a stream of frames can be
// resynchronized after a malformed body. The encoding is built on protowire and
// every decoding path is bounds-checked: malformed input yields an error wrapping
// ErrMalformedMessage and never panics.
package protocol
