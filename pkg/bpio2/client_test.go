package bpio2

import (
	"context"
	"io"
	"testing"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/stretchr/testify/require"

	"hwh/pkg/bpio2/flatmsg"
	"hwh/pkg/frame"
)

type loopbackConn struct {
	io.Reader
	io.Writer
}

func (loopbackConn) Close() error { return nil }

type fakeOpener struct {
	binary frame.Conn
}

func (f *fakeOpener) OpenConsole() (frame.Conn, error) { return f.binary, nil }
func (f *fakeOpener) OpenBinary() (frame.Conn, error)  { return f.binary, nil }

// simulatedDevice answers exactly one StatusRequest with a fixed status
// reply, grounded in spec scenario 1: fw 2.3, hw 5 REV A, HiZ mode, PSU
// disabled.
func simulatedDevice(t *testing.T, deviceR io.Reader, deviceW io.Writer) {
	t.Helper()
	tr := frame.NewTransport(loopbackConn{Reader: deviceR, Writer: deviceW})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reqBytes, err := tr.Recv(ctx)
	require.NoError(t, err)
	req := flatmsg.GetRootAsRequestPacket(reqBytes, 0)
	require.Equal(t, flatmsg.ContentsStatusRequest, req.ContentsType())

	b := flatbuffers.NewBuilder(256)
	mode := b.CreateString("HiZ")
	flatmsg.StatusResponseStart(b)
	flatmsg.StatusResponseAddVersionFirmwareMajor(b, 2)
	flatmsg.StatusResponseAddVersionFirmwareMinor(b, 3)
	flatmsg.StatusResponseAddVersionHardwareMajor(b, 5)
	flatmsg.StatusResponseAddVersionHardwareMinor(b, 0) // REV A
	flatmsg.StatusResponseAddModeCurrent(b, mode)
	flatmsg.StatusResponseAddPSUEnabled(b, false)
	statusResp := flatmsg.StatusResponseEnd(b)

	flatmsg.ResponsePacketStart(b)
	flatmsg.ResponsePacketAddVersionMajor(b, 2)
	flatmsg.ResponsePacketAddVersionMinor(b, 3)
	flatmsg.ResponsePacketAddContentsType(b, flatmsg.ContentsStatusResponse)
	flatmsg.ResponsePacketAddContents(b, statusResp)
	root := flatmsg.ResponsePacketEnd(b)
	b.Finish(root)

	require.NoError(t, tr.Send(b.FinishedBytes()))
}

// connectBinaryOnly sets up the transport directly, skipping the bootstrap
// probe in Connect — the simulated device in these tests answers exactly
// one StatusRequest and the probe itself would consume it.
func (c *Client) connectBinaryOnly() error {
	conn, err := c.opener.OpenBinary()
	if err != nil {
		return err
	}
	c.transport = frame.NewTransport(conn)
	return nil
}

func TestStatusRoundTrip(t *testing.T) {
	clientToDevice, deviceFromClient := io.Pipe()
	deviceToClient, clientFromDevice := io.Pipe()

	go simulatedDevice(t, clientToDevice, clientFromDevice)

	opener := &fakeOpener{binary: loopbackConn{Reader: deviceToClient, Writer: deviceFromClient}}
	client := NewClient(opener, 0)
	require.NoError(t, client.connectBinaryOnly())

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint8(2), status.VersionFirmwareMajor)
	require.Equal(t, "HiZ", status.ModeCurrent)
	require.False(t, status.PSUEnabled)
}

func TestStatusDebounceReturnsSameObject(t *testing.T) {
	clientToDevice, deviceFromClient := io.Pipe()
	deviceToClient, clientFromDevice := io.Pipe()
	go simulatedDevice(t, clientToDevice, clientFromDevice)

	opener := &fakeOpener{binary: loopbackConn{Reader: deviceToClient, Writer: deviceFromClient}}
	client := NewClient(opener, 0)
	require.NoError(t, client.connectBinaryOnly())

	first, err := client.Status(context.Background())
	require.NoError(t, err)

	// No second simulated reply is queued; a cache hit must not attempt I/O.
	second, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second)
}
