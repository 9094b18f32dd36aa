package frame

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeNoZeroBytes(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		{0x00, 0x00, 0x00},
		{0x01, 0x02, 0x03},
		bytes.Repeat([]byte{0x01}, 300),
	}
	for _, p := range payloads {
		enc := Encode(p)
		assert.NotContains(t, enc, byte(0x00), "encoded form must contain no 0x00 before the terminator")
	}
}

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x00},
		{0xAA, 0x00, 0xBB},
		bytes.Repeat([]byte{0x00}, 10),
		bytes.Repeat([]byte{0xFF}, 512),
	}
	for _, p := range payloads {
		enc := Encode(p)
		dec, err := Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, p, dec)
	}
}

// TestDecodeMalformedInput feeds code bytes that overrun the buffer (by
// one and by many) plus an embedded zero; each must surface as
// ErrCOBSDecode, never a panic or silently-decoded garbage.
func TestDecodeMalformedInput(t *testing.T) {
	malformed := [][]byte{
		{0x03, 0x01},             // code overruns buffer by exactly one
		{0x05, 0x01},             // code overruns by several
		{0xFF, 0x01, 0x02},       // max code with almost no data
		{0x00},                   // zero code byte
		{0x02, 0xAA, 0x04, 0xBB}, // second block overruns
	}
	for _, in := range malformed {
		_, err := Decode(in)
		assert.ErrorIs(t, err, ErrCOBSDecode, "input % X", in)
	}
}

// pipeConn adapts an io.Reader/io.Writer pair to the Conn interface for
// tests, the way a simulated serial endpoint would.
type pipeConn struct {
	io.Reader
	io.Writer
}

func (pipeConn) Close() error { return nil }

func TestTransportSendRecv(t *testing.T) {
	pr, pw := io.Pipe()
	qr, qw := io.Pipe()

	// "device" side loops back whatever it reads, framed the same way.
	go func() {
		tr := NewTransport(pipeConn{Reader: pr, Writer: qw})
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		payload, err := tr.Recv(ctx)
		if err != nil {
			return
		}
		_ = tr.Send(payload)
	}()

	client := NewTransport(pipeConn{Reader: qr, Writer: pw})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := client.Transact(ctx, []byte{0x01, 0x00, 0x02})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x00, 0x02}, resp)
}

func TestRecvTimeout(t *testing.T) {
	pr, _ := io.Pipe()
	tr := NewTransport(pipeConn{Reader: pr, Writer: io.Discard})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := tr.Recv(ctx)
	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTimeout, fe.Kind)
}

// TestRecvResyncAfterTimeout walks scenario 5: leading stray zeroes are
// discarded, a valid frame decodes, a partial frame times out without
// poisoning anything, and the completed frame decodes on the next call.
func TestRecvResyncAfterTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewTransport(pipeConn{Reader: pr, Writer: io.Discard})

	first := []byte{0x11, 0x00, 0x22}
	second := []byte{0x33, 0x44, 0x55}
	encFirst := Encode(first)
	encSecond := Encode(second)

	go func() {
		var stream []byte
		stream = append(stream, 0x00, 0x00) // stray delimiters to resync past
		stream = append(stream, encFirst...)
		stream = append(stream, 0x00)
		stream = append(stream, encSecond[:1]...) // partial frame, then silence
		pw.Write(stream)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	got, err := tr.Recv(ctx)
	cancel()
	require.NoError(t, err)
	assert.Equal(t, first, got)

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Millisecond)
	_, err = tr.Recv(ctx)
	cancel()
	var fe *Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindTimeout, fe.Kind)

	go func() {
		var rest []byte
		rest = append(rest, encSecond[1:]...)
		rest = append(rest, 0x00)
		pw.Write(rest)
	}()

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	got, err = tr.Recv(ctx)
	cancel()
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestSendFailurePoisonsTransport(t *testing.T) {
	pr, pw := io.Pipe()
	pw.Close() // writes to a closed PipeWriter's peer fail
	tr := NewTransport(pipeConn{Reader: pr, Writer: pw})

	err := tr.Send([]byte{0x01})
	require.Error(t, err)

	err = tr.Send([]byte{0x01})
	assert.ErrorIs(t, err, TransportClosed)
}
