package protocol

import (
	"maps"
	"math"
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// EncodeCall returns the frame encoding of c.
func EncodeCall(c Call) []byte {
	return AppendCall(nil, c)
}

// AppendCall appends the frame encoding of c to b.
func AppendCall(b []byte, c Call) []byte {
	var p []byte
	switch c := c.(type) {
	case Print:
		p = appendString(p, 1, c.Text)
	case Present:
	case Clear:
		for i, v := range c.Color {
			p = appendFloat32(p, protowire.Number(i+1), v)
		}
	case Draw:
		p = appendString(p, 1, c.Texture)
		p = appendFloat32(p, 2, c.Pos[0])
		p = appendFloat32(p, 3, c.Pos[1])
		p = appendFloat32(p, 4, c.Rotation)
		p = appendFloat32(p, 5, c.Scale[0])
		p = appendFloat32(p, 6, c.Scale[1])
	case PlaySound:
		p = appendString(p, 1, c.Name)
		p = appendFloat32(p, 2, c.Volume)
	case Log:
		p = appendVarint(p, 1, protowire.EncodeZigZag(int64(c.Level)))
		p = appendString(p, 2, c.Message)
		for _, k := range slices.Sorted(maps.Keys(c.Fields)) {
			var entry []byte
			entry = appendString(entry, 1, k)
			entry = appendString(entry, 2, c.Fields[k])
			p = protowire.AppendTag(p, 3, protowire.BytesType)
			p = protowire.AppendBytes(p, entry)
		}
	}
	return appendFrame(b, protowire.Number(c.Kind()), p)
}

// DecodeCall decodes a single Call. b must hold exactly one frame.
func DecodeCall(b []byte) (Call, error) {
	num, payload, n, err := consumeFrame(b)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, malformed("%d trailing bytes after frame", len(b)-n)
	}
	c, err := decodeCallPayload(CallKind(num), payload)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DecodeCalls decodes a stream of concatenated Call frames. A frame with a
// malformed body is skipped and reported to onError (which may be nil), then
// decoding resumes at the next frame. A malformed length prefix ends the stream.
func DecodeCalls(b []byte, onError func(error)) []Call {
	var calls []Call
	for len(b) > 0 {
		num, payload, n, err := consumeFrame(b)
		if n < 0 {
			report(onError, err)
			return calls
		}
		b = b[n:]
		if err != nil {
			report(onError, err)
			continue
		}
		c, err := decodeCallPayload(CallKind(num), payload)
		if err != nil {
			report(onError, err)
			continue
		}
		calls = append(calls, c)
	}
	return calls
}

func decodeCallPayload(kind CallKind, payload []byte) (Call, error) {
	d := decoder{buf: payload}
	switch kind {
	case CallPrint:
		var c Print
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1:
				c.Text = d.string(typ)
			default:
				d.skip(num, typ)
			}
		}
		return c, d.err
	case CallPresent:
		for d.more() {
			d.skip(d.tag())
		}
		return Present{}, d.err
	case CallClear:
		var c Clear
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1, 2, 3, 4:
				c.Color[num-1] = d.float32(typ)
			default:
				d.skip(num, typ)
			}
		}
		return c, d.err
	case CallDraw:
		var c Draw
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1:
				c.Texture = d.string(typ)
			case 2:
				c.Pos[0] = d.float32(typ)
			case 3:
				c.Pos[1] = d.float32(typ)
			case 4:
				c.Rotation = d.float32(typ)
			case 5:
				c.Scale[0] = d.float32(typ)
			case 6:
				c.Scale[1] = d.float32(typ)
			default:
				d.skip(num, typ)
			}
		}
		return c, d.err
	case CallPlaySound:
		var c PlaySound
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1:
				c.Name = d.string(typ)
			case 2:
				c.Volume = d.float32(typ)
			default:
				d.skip(num, typ)
			}
		}
		return c, d.err
	case CallLog:
		var c Log
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1:
				c.Level = d.int32(typ)
			case 2:
				c.Message = d.string(typ)
			case 3:
				k, v := d.entry(typ)
				if d.err == nil {
					if c.Fields == nil {
						c.Fields = make(map[string]string)
					}
					c.Fields[k] = v
				}
			default:
				d.skip(num, typ)
			}
		}
		return c, d.err
	default:
		return nil, malformed("call tag %d out of range", uint8(kind))
	}
}

// EncodeResponse returns the frame encoding of r.
func EncodeResponse(r Response) []byte {
	return AppendResponse(nil, r)
}

// AppendResponse appends the frame encoding of r to b.
func AppendResponse(b []byte, r Response) []byte {
	var p []byte
	switch r := r.(type) {
	case KeyState:
		p = appendVarint(p, 1, uint64(r.Key))
		p = appendVarint(p, 2, protowire.EncodeBool(r.Pressed))
	case Timing:
		p = appendFloat64(p, 1, r.Delta)
		p = appendFloat64(p, 2, r.Elapsed)
	case Resize:
		p = appendVarint(p, 1, uint64(r.Width))
		p = appendVarint(p, 2, uint64(r.Height))
	case Pointer:
		p = appendFloat32(p, 1, r.Pos[0])
		p = appendFloat32(p, 2, r.Pos[1])
		p = appendVarint(p, 3, uint64(r.Buttons))
	}
	return appendFrame(b, protowire.Number(r.Kind()), p)
}

// DecodeResponse decodes a single Response. b must hold exactly one frame.
func DecodeResponse(b []byte) (Response, error) {
	num, payload, n, err := consumeFrame(b)
	if err != nil {
		return nil, err
	}
	if n != len(b) {
		return nil, malformed("%d trailing bytes after frame", len(b)-n)
	}
	r, err := decodeResponsePayload(ResponseKind(num), payload)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeResponses is the Response counterpart of DecodeCalls.
func DecodeResponses(b []byte, onError func(error)) []Response {
	var responses []Response
	for len(b) > 0 {
		num, payload, n, err := consumeFrame(b)
		if n < 0 {
			report(onError, err)
			return responses
		}
		b = b[n:]
		if err != nil {
			report(onError, err)
			continue
		}
		r, err := decodeResponsePayload(ResponseKind(num), payload)
		if err != nil {
			report(onError, err)
			continue
		}
		responses = append(responses, r)
	}
	return responses
}

func decodeResponsePayload(kind ResponseKind, payload []byte) (Response, error) {
	d := decoder{buf: payload}
	switch kind {
	case ResponseKeyState:
		var r KeyState
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1:
				r.Key = d.key(typ)
			case 2:
				r.Pressed = protowire.DecodeBool(d.varint(typ))
			default:
				d.skip(num, typ)
			}
		}
		return r, d.err
	case ResponseTiming:
		var r Timing
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1:
				r.Delta = d.float64(typ)
			case 2:
				r.Elapsed = d.float64(typ)
			default:
				d.skip(num, typ)
			}
		}
		return r, d.err
	case ResponseResize:
		var r Resize
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1:
				r.Width = d.uint32(typ)
			case 2:
				r.Height = d.uint32(typ)
			default:
				d.skip(num, typ)
			}
		}
		return r, d.err
	case ResponsePointer:
		var r Pointer
		for d.more() {
			switch num, typ := d.tag(); num {
			case 1:
				r.Pos[0] = d.float32(typ)
			case 2:
				r.Pos[1] = d.float32(typ)
			case 3:
				r.Buttons = d.uint32(typ)
			default:
				d.skip(num, typ)
			}
		}
		return r, d.err
	default:
		return nil, malformed("response tag %d out of range", uint8(kind))
	}
}

func report(onError func(error), err error) {
	if onError != nil {
		onError(err)
	}
}

func appendFrame(b []byte, num protowire.Number, payload []byte) []byte {
	size := protowire.SizeTag(num) + protowire.SizeBytes(len(payload))
	b = protowire.AppendVarint(b, uint64(size))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, payload)
}

// consumeFrame reads one frame from b. n is the number of bytes the frame
// occupies; it is negative when the length prefix itself is unreadable, in which
// case the rest of b cannot be framed.
func consumeFrame(b []byte) (num protowire.Number, payload []byte, n int, err error) {
	body, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, nil, n, malformed("frame length: %v", protowire.ParseError(n))
	}
	num, typ, m := protowire.ConsumeTag(body)
	if m < 0 {
		return 0, nil, n, malformed("variant tag: %v", protowire.ParseError(m))
	}
	if typ != protowire.BytesType {
		return 0, nil, n, malformed("variant %d has wire type %d", num, typ)
	}
	payload, k := protowire.ConsumeBytes(body[m:])
	if k < 0 {
		return 0, nil, n, malformed("variant %d payload: %v", num, protowire.ParseError(k))
	}
	if m+k != len(body) {
		return 0, nil, n, malformed("variant %d: %d trailing bytes in frame", num, len(body)-m-k)
	}
	if num > math.MaxUint8 {
		return 0, nil, n, malformed("variant tag %d out of range", num)
	}
	return num, payload, n, nil
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendFloat32(b []byte, num protowire.Number, v float32) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, math.Float32bits(v))
}

func appendFloat64(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

// decoder reads protobuf wire fields from a payload. The first failure is kept
// in err and turns every later read into a no-op.
type decoder struct {
	buf []byte
	err error
}

func (d *decoder) more() bool {
	return d.err == nil && len(d.buf) > 0
}

func (d *decoder) fail(what string, n int) {
	if d.err == nil {
		d.err = malformed("%s: %v", what, protowire.ParseError(n))
	}
}

func (d *decoder) expect(typ, want protowire.Type) bool {
	if d.err != nil {
		return false
	}
	if typ != want {
		d.err = malformed("wire type %d, want %d", typ, want)
		return false
	}
	return true
}

func (d *decoder) tag() (protowire.Number, protowire.Type) {
	num, typ, n := protowire.ConsumeTag(d.buf)
	if n < 0 {
		d.fail("field tag", n)
		return 0, 0
	}
	d.buf = d.buf[n:]
	return num, typ
}

func (d *decoder) skip(num protowire.Number, typ protowire.Type) {
	if d.err != nil {
		return
	}
	n := protowire.ConsumeFieldValue(num, typ, d.buf)
	if n < 0 {
		d.fail("unknown field", n)
		return
	}
	d.buf = d.buf[n:]
}

func (d *decoder) bytes(typ protowire.Type) []byte {
	if !d.expect(typ, protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.buf)
	if n < 0 {
		d.fail("bytes field", n)
		return nil
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) string(typ protowire.Type) string {
	return string(d.bytes(typ))
}

func (d *decoder) varint(typ protowire.Type) uint64 {
	if !d.expect(typ, protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.buf)
	if n < 0 {
		d.fail("varint field", n)
		return 0
	}
	d.buf = d.buf[n:]
	return v
}

func (d *decoder) uint32(typ protowire.Type) uint32 {
	v := d.varint(typ)
	if v > math.MaxUint32 && d.err == nil {
		d.err = malformed("value %d overflows uint32", v)
		return 0
	}
	return uint32(v)
}

func (d *decoder) int32(typ protowire.Type) int32 {
	v := protowire.DecodeZigZag(d.varint(typ))
	if (v < math.MinInt32 || v > math.MaxInt32) && d.err == nil {
		d.err = malformed("value %d overflows int32", v)
		return 0
	}
	return int32(v)
}

func (d *decoder) key(typ protowire.Type) Key {
	v := d.varint(typ)
	if d.err != nil {
		return KeyUnknown
	}
	if k := Key(v); v <= math.MaxUint32 && k.Valid() {
		return k
	}
	d.err = malformed("key %d out of range", v)
	return KeyUnknown
}

func (d *decoder) float32(typ protowire.Type) float32 {
	if !d.expect(typ, protowire.Fixed32Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed32(d.buf)
	if n < 0 {
		d.fail("fixed32 field", n)
		return 0
	}
	d.buf = d.buf[n:]
	return math.Float32frombits(v)
}

func (d *decoder) float64(typ protowire.Type) float64 {
	if !d.expect(typ, protowire.Fixed64Type) {
		return 0
	}
	v, n := protowire.ConsumeFixed64(d.buf)
	if n < 0 {
		d.fail("fixed64 field", n)
		return 0
	}
	d.buf = d.buf[n:]
	return math.Float64frombits(v)
}

// entry decodes one map entry of a Log's fields.
func (d *decoder) entry(typ protowire.Type) (key, value string) {
	raw := d.bytes(typ)
	if d.err != nil {
		return "", ""
	}
	sub := decoder{buf: raw}
	for sub.more() {
		switch num, t := sub.tag(); num {
		case 1:
			key = sub.string(t)
		case 2:
			value = sub.string(t)
		default:
			sub.skip(num, t)
		}
	}
	d.err = sub.err
	return key, value
}
