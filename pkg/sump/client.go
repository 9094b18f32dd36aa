package sump

import (
	"context"
	"io"
	"time"
)

const (
	identifyTimeout       = 500 * time.Millisecond
	defaultCaptureTimeout = 10 * time.Second
)

// Conn is the byte-stream contract for the SUMP endpoint: no framing
// beyond the byte stream itself.
type Conn interface {
	io.Reader
	io.Writer
}

// Client drives the SUMP wire protocol.
type Client struct {
	conn Conn
}

// NewClient wraps an already-open serial connection.
func NewClient(conn Conn) *Client {
	return &Client{conn: conn}
}

func (c *Client) writeCommand(cmd Command) error {
	_, err := c.conn.Write([]byte{byte(cmd)})
	return err
}

// writeLongCommand writes a 5-byte long command: the command byte followed
// by a 4-byte little-endian argument.
func (c *Client) writeLongCommand(cmd Command, arg uint32) error {
	buf := [5]byte{
		byte(cmd),
		byte(arg),
		byte(arg >> 8),
		byte(arg >> 16),
		byte(arg >> 24),
	}
	_, err := c.conn.Write(buf[:])
	return err
}

// Reset sends the reset command five times and flushes any response, as
// sump.py's reset() does.
func (c *Client) Reset() error {
	for i := 0; i < 5; i++ {
		if err := c.writeCommand(CmdReset); err != nil {
			return newErr(KindTransport, err.Error())
		}
	}
	time.Sleep(100 * time.Millisecond)
	drain(c.conn)
	return nil
}

func drain(r io.Reader) {
	buf := make([]byte, 256)
	type result struct {
		n   int
		err error
	}
	for {
		done := make(chan result, 1)
		go func() {
			n, err := r.Read(buf)
			done <- result{n, err}
		}()
		select {
		case res := <-done:
			if res.err != nil || res.n == 0 {
				return
			}
		case <-time.After(20 * time.Millisecond):
			return
		}
	}
}

// Identify sends CmdID and expects exactly "1ALS" within 500ms.
// Failure to respond is KindNotResponding.
func (c *Client) Identify(ctx context.Context) error {
	if err := c.writeCommand(CmdID); err != nil {
		return newErr(KindTransport, err.Error())
	}

	idCtx, cancel := context.WithTimeout(ctx, identifyTimeout)
	defer cancel()

	buf, err := readExact(idCtx, c.conn, 4)
	if err != nil {
		return newErr(KindNotResponding, err.Error())
	}
	if buf[0] != identifyMagic[0] || buf[1] != identifyMagic[1] || buf[2] != identifyMagic[2] || buf[3] != identifyMagic[3] {
		return newErr(KindNotResponding, "unexpected identify reply")
	}
	return nil
}

// Metadata is the decoded result of GetMetadata.
type Metadata struct {
	DeviceName      string
	FirmwareVersion string
	ProtocolVersion string
	NumProbes       uint32
	SampleMemory    uint32
	DynamicMemory   uint32
	MaxSampleRate   uint32
	ProtocolFlags   uint32
}

// GetMetadata reads the 0x11 token stream until a terminating 0x00 token,
// mirroring sump.py's get_metadata(): a tag below 0x20 introduces a
// NUL-terminated string token, otherwise a byte tag is followed by a 4-byte
// big-endian numeric value.
func (c *Client) GetMetadata(ctx context.Context) (*Metadata, error) {
	if err := c.writeCommand(CmdMetadata); err != nil {
		return nil, newErr(KindTransport, err.Error())
	}

	md := &Metadata{}
	for {
		tagBuf, err := readExact(ctx, c.conn, 1)
		if err != nil {
			return nil, newErr(KindTransport, err.Error())
		}
		tag := tagBuf[0]
		if tag == 0x00 {
			break
		}
		if tag < 0x20 {
			s, err := readCString(ctx, c.conn)
			if err != nil {
				return nil, newErr(KindTransport, err.Error())
			}
			switch tag {
			case 0x01:
				md.DeviceName = s
			case 0x02:
				md.FirmwareVersion = s
			case 0x03:
				md.ProtocolVersion = s
			}
			continue
		}
		valBuf, err := readExact(ctx, c.conn, 4)
		if err != nil {
			return nil, newErr(KindTransport, err.Error())
		}
		val := uint32(valBuf[0])<<24 | uint32(valBuf[1])<<16 | uint32(valBuf[2])<<8 | uint32(valBuf[3])
		switch tag {
		case 0x20:
			md.NumProbes = val
		case 0x21:
			md.SampleMemory = val
		case 0x22:
			md.DynamicMemory = val
		case 0x23:
			md.MaxSampleRate = val
		case 0x24:
			md.ProtocolFlags = val
		}
	}
	return md, nil
}

// Configure programs divider, read/delay counts, flags, and trigger
// mask/value/config.
func (c *Client) Configure(cfg Config) error {
	divider := computeDivider(cfg.BaseClockHz, cfg.SampleRateHz)
	if err := c.writeLongCommand(CmdSetDivider, divider); err != nil {
		return newErr(KindTransport, err.Error())
	}

	readCount := computeReadCount(cfg.SampleCount)
	delayCount := computeDelayCount(cfg.TriggerDelaySamples)
	counts := uint32(readCount) | uint32(delayCount)<<16
	if err := c.writeLongCommand(CmdSetReadDelayCount, counts); err != nil {
		return newErr(KindTransport, err.Error())
	}

	flags := flagsForChannels(cfg.Channels, cfg.Demux)
	if err := c.writeLongCommand(CmdSetFlags, uint32(flags)); err != nil {
		return newErr(KindTransport, err.Error())
	}

	if err := c.writeLongCommand(CmdSetTriggerMask0, cfg.TriggerMask); err != nil {
		return newErr(KindTransport, err.Error())
	}
	if err := c.writeLongCommand(CmdSetTriggerValue0, cfg.TriggerValue); err != nil {
		return newErr(KindTransport, err.Error())
	}
	if err := c.writeLongCommand(CmdSetTriggerConfig0, triggerStartCapture); err != nil {
		return newErr(KindTransport, err.Error())
	}

	return nil
}

// Capture sends RUN and reads sample_count*bytesPerSample(channels) bytes
// within timeout, returning a partial capture if the deadline fires after
// at least one sample is present.
func (c *Client) Capture(ctx context.Context, cfg Config, timeout time.Duration) (*Capture, error) {
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}
	if err := c.writeCommand(CmdRun); err != nil {
		return nil, newErr(KindTransport, err.Error())
	}

	bps := bytesPerSample(cfg.Channels)
	want := int(cfg.SampleCount) * bps

	capCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := readUpTo(capCtx, c.conn, want)
	if len(raw) == 0 || len(raw) < bps {
		if err != nil {
			return nil, newErr(KindNoData, err.Error())
		}
		return nil, newErr(KindNoData, "capture timed out with zero bytes")
	}
	// A non-fatal partial read is acceptable once at least one sample byte
	// group is present.

	return parseCapture(raw, cfg, bps), nil
}

// parseCapture reverses SUMP's newest-first, LSB-first packing into
// chronological per-channel bit arrays and locates the trigger position by
// scanning for the first sample whose masked value equals the trigger
// value. This preserves a deliberately ambiguous corner case: no match
// leaves trigger_position at 0.
func parseCapture(raw []byte, cfg Config, bps int) *Capture {
	sampleCount := len(raw) / bps
	samples := make([]uint32, sampleCount)
	for i := 0; i < sampleCount; i++ {
		// SUMP emits newest-first: reverse sample order while decoding.
		srcIdx := sampleCount - 1 - i
		var v uint32
		for b := 0; b < bps; b++ {
			v |= uint32(raw[srcIdx*bps+b]) << (8 * b) // LSB-first within a sample
		}
		samples[i] = v
	}

	channels := int(cfg.Channels)
	perChannel := make([][]bool, channels)
	for ch := range perChannel {
		perChannel[ch] = make([]bool, sampleCount)
		for i, s := range samples {
			perChannel[ch][i] = (s>>uint(ch))&1 == 1
		}
	}

	triggerPos := 0
	if cfg.TriggerMask != 0 {
		for i, s := range samples {
			if s&cfg.TriggerMask == cfg.TriggerValue {
				triggerPos = i
				break
			}
		}
	}

	return &Capture{
		ChannelCount:    channels,
		SampleRateHz:    cfg.SampleRateHz,
		PerChannelBits:  perChannel,
		TriggerPosition: triggerPos,
		RawBytes:        raw,
	}
}

func readExact(ctx context.Context, r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		chunk, err := readUpTo(ctx, r, n-read)
		read += copy(buf[read:], chunk)
		if err != nil {
			return buf[:read], err
		}
		if len(chunk) == 0 {
			return buf[:read], io.ErrUnexpectedEOF
		}
	}
	return buf, nil
}

func readCString(ctx context.Context, r io.Reader) (string, error) {
	var out []byte
	for {
		b, err := readExact(ctx, r, 1)
		if err != nil {
			return string(out), err
		}
		if b[0] == 0x00 {
			return string(out), nil
		}
		out = append(out, b[0])
	}
}

// readUpTo reads up to n bytes, bounded by ctx. If the deadline fires first
// it returns whatever has accumulated so far rather than discarding it —
// this is what lets Capture return a partial SumpCapture once at least one
// sample has arrived.
func readUpTo(ctx context.Context, r io.Reader, n int) ([]byte, error) {
	chunks := make(chan []byte, 16)
	errs := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			k, err := r.Read(buf)
			if k > 0 {
				chunk := make([]byte, k)
				copy(chunk, buf[:k])
				chunks <- chunk
			}
			if err != nil {
				errs <- err
				return
			}
		}
	}()

	out := make([]byte, 0, n)
	for len(out) < n {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case chunk := <-chunks:
			remaining := n - len(out)
			if len(chunk) > remaining {
				chunk = chunk[:remaining]
			}
			out = append(out, chunk...)
		case err := <-errs:
			// The reader goroutine queues every chunk before its error, so
			// take those first rather than dropping bytes that arrived.
			for len(out) < n && len(chunks) > 0 {
				chunk := <-chunks
				if len(chunk) > n-len(out) {
					chunk = chunk[:n-len(out)]
				}
				out = append(out, chunk...)
			}
			if len(out) == n {
				return out, nil
			}
			return out, err
		}
	}
	return out, nil
}
