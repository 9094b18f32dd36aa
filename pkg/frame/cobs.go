// Package frame implements the COBS packet framing used by BPIO2, and a
// generic length-delimited transact() on top of it.
package frame

import "errors"

// ErrCOBSDecode is returned by Decode when the input is not a well-formed
// COBS-encoded buffer.
var ErrCOBSDecode = errors.New("frame: cobs decode error")

// Encode applies Consistent Overhead Byte Stuffing to payload. The result
// never contains a 0x00 byte; callers append the single zero terminator
// themselves before writing to the wire.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+len(payload)/254+2)
	// codeIdx points at the not-yet-written length byte for the current run.
	codeIdx := 0
	out = append(out, 0) // placeholder
	code := byte(1)

	flush := func() {
		out[codeIdx] = code
		codeIdx = len(out)
		out = append(out, 0)
		code = 1
	}

	for _, b := range payload {
		if b == 0 {
			flush()
			continue
		}
		out = append(out, b)
		code++
		if code == 0xFF {
			flush()
		}
	}
	out[codeIdx] = code
	return out
}

// Decode reverses Encode. encoded must not include the terminating zero
// byte. Returns ErrCOBSDecode on malformed input.
func Decode(encoded []byte) ([]byte, error) {
	out := make([]byte, 0, len(encoded))
	i := 0
	n := len(encoded)
	for i < n {
		code := encoded[i]
		if code == 0 {
			return nil, ErrCOBSDecode
		}
		// A block is the code byte plus code-1 data bytes; a code that
		// runs past the buffer is a truncated or corrupt frame.
		blockEnd := i + int(code)
		if blockEnd > n {
			return nil, ErrCOBSDecode
		}
		out = append(out, encoded[i+1:blockEnd]...)
		i = blockEnd
		if code != 0xFF && i < n {
			out = append(out, 0)
		}
	}
	return out, nil
}
