package sump

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	toDevice   *bytes.Buffer
	fromDevice io.Reader
}

func (f *fakeConn) Write(p []byte) (int, error) { return f.toDevice.Write(p) }
func (f *fakeConn) Read(p []byte) (int, error)  { return f.fromDevice.Read(p) }

func TestComputeDivider(t *testing.T) {
	assert.Equal(t, uint32(0), computeDivider(100_000_000, 200_000_000), "sample_rate > base_clock clamps to 0")
	assert.Equal(t, uint32(99), computeDivider(100_000_000, 1_000_000))
}

func TestComputeReadCountFloorAdjusted(t *testing.T) {
	assert.Equal(t, uint16(1), computeReadCount(8))
	assert.Equal(t, uint16(1), computeReadCount(9), "not divisible by 4 floor-adjusts")
}

func TestIdentifySuccess(t *testing.T) {
	conn := &fakeConn{toDevice: &bytes.Buffer{}, fromDevice: bytes.NewReader([]byte("1ALS"))}
	c := NewClient(conn)
	require.NoError(t, c.Identify(context.Background()))
	assert.Equal(t, []byte{byte(CmdID)}, conn.toDevice.Bytes())
}

func TestIdentifyNotResponding(t *testing.T) {
	conn := &fakeConn{toDevice: &bytes.Buffer{}, fromDevice: bytes.NewReader(nil)}
	c := NewClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := c.Identify(ctx)
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindNotResponding, se.Kind)
}

// TestCapturePartialOnShortStream delivers 2 of the 4 requested samples:
// the capture is returned truncated rather than failed, with the
// trigger position left at zero.
func TestCapturePartialOnShortStream(t *testing.T) {
	conn := &fakeConn{toDevice: &bytes.Buffer{}, fromDevice: bytes.NewReader([]byte{0x01, 0x02})}
	c := NewClient(conn)

	cap, err := c.Capture(context.Background(), Config{Channels: 8, SampleCount: 4}, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, cap.PerChannelBits, 8)
	assert.Len(t, cap.PerChannelBits[0], 2)
	assert.Equal(t, 0, cap.TriggerPosition)
}

func TestCaptureNoDataAtAll(t *testing.T) {
	conn := &fakeConn{toDevice: &bytes.Buffer{}, fromDevice: bytes.NewReader(nil)}
	c := NewClient(conn)

	_, err := c.Capture(context.Background(), Config{Channels: 8, SampleCount: 4}, 50*time.Millisecond)
	require.Error(t, err)
	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, KindNoData, se.Kind)
}

func TestParseCaptureReversesAndDemuxes(t *testing.T) {
	// Two samples, one channel byte each. Device order is newest-first;
	// chronological order is oldest first.
	raw := []byte{0x01, 0x00} // newest=0x01 (ch0 high), oldest=0x00
	cfg := Config{Channels: 8, SampleCount: 2}
	cap := parseCapture(raw, cfg, 1)
	require.Len(t, cap.PerChannelBits[0], 2)
	assert.False(t, cap.PerChannelBits[0][0], "chronological first sample was the oldest (0x00)")
	assert.True(t, cap.PerChannelBits[0][1], "chronological second sample was the newest (0x01)")
}

func TestParseCaptureTriggerPositionDefaultsToZero(t *testing.T) {
	raw := []byte{0xFF, 0xFF}
	cfg := Config{Channels: 8, SampleCount: 2, TriggerMask: 0x01, TriggerValue: 0x00}
	cap := parseCapture(raw, cfg, 1)
	assert.Equal(t, 0, cap.TriggerPosition, "no sample matches the mask/value; preserved ambiguous default")
}
