package buspirate

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hwh/pkg/backend"
	"hwh/pkg/bpio2"
	"hwh/pkg/bpio2/flatmsg"
	"hwh/pkg/frame"
)

type pipeConn struct {
	io.Reader
	io.Writer
}

func (pipeConn) Close() error { return nil }

type pipeOpener struct{ conn frame.Conn }

func (o *pipeOpener) OpenConsole() (frame.Conn, error) { return o.conn, nil }
func (o *pipeOpener) OpenBinary() (frame.Conn, error)  { return o.conn, nil }

type pageWrite struct {
	addr uint32
	size int
}

// flashDevice simulates a Bus Pirate fronting a JEDEC SPI NOR part: it
// answers BPIO2 StatusRequests (so Connect's binary probe succeeds) and
// DataRequests, tracking write-enable, page programs, and a status
// register whose WIP bit stays set for busyPolls reads after a program or
// erase.
type flashDevice struct {
	tr *frame.Transport

	mu         sync.Mutex
	pending    []byte
	busyPolls  int
	alwaysBusy bool
	pageWrites []pageWrite
	erases     []byte
}

func (d *flashDevice) serve(t *testing.T) {
	t.Helper()
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		reqBytes, err := d.tr.Recv(ctx)
		cancel()
		if err != nil {
			return
		}
		req := flatmsg.GetRootAsRequestPacket(reqBytes, 0)
		switch req.ContentsType() {
		case flatmsg.ContentsStatusRequest:
			d.reply(t, flatmsg.ContentsStatusResponse, func(b *flatbuffers.Builder) flatbuffers.UOffsetT {
				mode := b.CreateString("SPI")
				flatmsg.StatusResponseStart(b)
				flatmsg.StatusResponseAddVersionFirmwareMajor(b, 2)
				flatmsg.StatusResponseAddModeCurrent(b, mode)
				return flatmsg.StatusResponseEnd(b)
			})
		case flatmsg.ContentsConfigurationRequest:
			d.reply(t, flatmsg.ContentsConfigurationResponse, func(b *flatbuffers.Builder) flatbuffers.UOffsetT {
				flatmsg.ConfigurationResponseStart(b)
				return flatmsg.ConfigurationResponseEnd(b)
			})
		case flatmsg.ContentsDataRequest:
			table, ok := req.ContentsTable()
			if !ok {
				return
			}
			dr := &flatmsg.DataRequest{}
			dr.InitFromTable(table)
			d.handleData(dr)
			read := dr.BytesRead()
			d.reply(t, flatmsg.ContentsDataResponse, func(b *flatbuffers.Builder) flatbuffers.UOffsetT {
				var dataOff flatbuffers.UOffsetT
				if read > 0 {
					d.mu.Lock()
					resp := d.pending
					if int(read) < len(resp) {
						resp = resp[:read]
					}
					d.mu.Unlock()
					dataOff = b.CreateByteString(resp)
				}
				flatmsg.DataResponseStart(b)
				if dataOff != 0 {
					flatmsg.DataResponseAddDataRead(b, dataOff)
				}
				return flatmsg.DataResponseEnd(b)
			})
		default:
			return
		}
	}
}

func (d *flashDevice) handleData(dr *flatmsg.DataRequest) {
	w := dr.DataWrite()
	if len(w) == 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch w[0] {
	case cmdFlashReadID:
		d.pending = []byte{0xEF, 0x40, 0x16}
	case cmdFlashReadStatus:
		status := byte(0x00)
		if d.alwaysBusy || d.busyPolls > 0 {
			status = statusBusyBit
			if d.busyPolls > 0 {
				d.busyPolls--
			}
		}
		d.pending = []byte{status}
	case cmdFlashWriteEn:
		// write-enable latch; nothing to read back
	case cmdFlashPageWrite:
		addr := uint32(w[1])<<16 | uint32(w[2])<<8 | uint32(w[3])
		d.pageWrites = append(d.pageWrites, pageWrite{addr: addr, size: len(w) - 4})
		d.busyPolls = 1
	case cmdSectorErase, cmdBlockErase, cmdChipErase:
		d.erases = append(d.erases, w[0])
		d.busyPolls = 1
	}
}

func (d *flashDevice) reply(t *testing.T, ct flatmsg.ContentsType, build func(*flatbuffers.Builder) flatbuffers.UOffsetT) {
	t.Helper()
	b := flatbuffers.NewBuilder(256)
	contents := build(b)
	flatmsg.ResponsePacketStart(b)
	flatmsg.ResponsePacketAddVersionMajor(b, 2)
	flatmsg.ResponsePacketAddContentsType(b, ct)
	flatmsg.ResponsePacketAddContents(b, contents)
	root := flatmsg.ResponsePacketEnd(b)
	b.Finish(root)
	require.NoError(t, d.tr.Send(b.FinishedBytes()))
}

func newTestInstance(t *testing.T) (*Instance, *flashDevice) {
	t.Helper()
	clientToDevice, deviceFromClient := io.Pipe()
	deviceToClient, clientFromDevice := io.Pipe()

	dev := &flashDevice{tr: frame.NewTransport(pipeConn{Reader: clientToDevice, Writer: clientFromDevice})}
	go dev.serve(t)

	opener := &pipeOpener{conn: pipeConn{Reader: deviceToClient, Writer: deviceFromClient}}
	client := bpio2.NewClient(opener, 0)
	require.NoError(t, client.Connect(context.Background()))

	return &Instance{id: "buspirate-test", client: client}, dev
}

// TestFlashReadID reproduces scenario 2: after an SPI configure, the
// driver emits 0x9F, reads 3 bytes, and returns the device's JEDEC id
// exactly.
func TestFlashReadID(t *testing.T) {
	inst, _ := newTestInstance(t)
	require.NoError(t, inst.Configure(context.Background(), "spi", map[string]any{
		"speed_hz": 1_000_000, "mode": 0, "cs_active_low": true,
	}))

	id, err := inst.FlashReadID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEF, 0x40, 0x16}, id)
}

// TestFlashWriteSplitsPages writes 300 bytes starting mid-page (0x80) and
// expects two page programs: 128 bytes up to the page boundary, then the
// remaining 172 from 0x100.
func TestFlashWriteSplitsPages(t *testing.T) {
	inst, dev := newTestInstance(t)

	data := make([]byte, 300)
	require.NoError(t, inst.FlashWrite(context.Background(), 0x80, data))

	dev.mu.Lock()
	defer dev.mu.Unlock()
	require.Len(t, dev.pageWrites, 2)
	assert.Equal(t, pageWrite{addr: 0x80, size: 128}, dev.pageWrites[0])
	assert.Equal(t, pageWrite{addr: 0x100, size: 172}, dev.pageWrites[1])
}

func TestFlashEraseSectorPollsBusyClear(t *testing.T) {
	inst, dev := newTestInstance(t)

	require.NoError(t, inst.FlashErase(context.Background(), backend.FlashScopeSector, 0x1000))

	dev.mu.Lock()
	defer dev.mu.Unlock()
	assert.Equal(t, []byte{cmdSectorErase}, dev.erases)
}

// TestFlashEraseTimeoutWhileBusy pins the simulated part's WIP bit high
// and expects the sector-scope deadline to expire as a Timeout.
func TestFlashEraseTimeoutWhileBusy(t *testing.T) {
	inst, dev := newTestInstance(t)
	dev.mu.Lock()
	dev.alwaysBusy = true
	dev.mu.Unlock()

	err := inst.FlashErase(context.Background(), backend.FlashScopeSector, 0)
	require.Error(t, err)
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.KindTimeout, be.Kind)
}
