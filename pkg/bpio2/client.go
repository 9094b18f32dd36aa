package bpio2

import (
	"context"
	"sync"
	"time"

	flatbuffers "github.com/google/flatbuffers/go"

	"hwh/pkg/bpio2/flatmsg"
	"hwh/pkg/frame"
)

const (
	// ProtocolVersionMajor is the BPIO2 major version this client speaks;
	// a mismatch at this major is never negotiated.
	ProtocolVersionMajor = 2

	defaultRequestTimeout = 5 * time.Second
	statusDebounce        = 50 * time.Millisecond
)

// Opener opens the two CDC-ACM endpoints BPIO2 devices expose: a
// line-oriented console used only for the binary-mode bootstrap, and the
// BPIO2 binary channel itself.
type Opener interface {
	OpenConsole() (frame.Conn, error)
	OpenBinary() (frame.Conn, error)
}

// Client is the typed BPIO2 request/response client.
type Client struct {
	opener    Opener
	minMinor  uint8
	transport *frame.Transport

	mu           sync.Mutex
	lastStatus   *StatusResult
	lastStatusAt time.Time
}

// NewClient constructs a client that has not yet connected. minMinor is the
// minimum accepted minor protocol version the client advertises on every
// request.
func NewClient(opener Opener, minMinor uint8) *Client {
	return &Client{opener: opener, minMinor: minMinor}
}

// Connect performs the binary-mode bootstrap: probe the binary
// endpoint directly first, and only fall back to the console bootstrap
// sequence (binmode\r\n, 2\r\n) if the probe does not respond.
func (c *Client) Connect(ctx context.Context) error {
	bin, err := c.opener.OpenBinary()
	if err == nil {
		c.transport = frame.NewTransport(bin)
		if _, err := c.statusUncached(ctx); err == nil {
			return nil
		}
		c.transport.Close()
		c.transport = nil
	}

	console, err := c.opener.OpenConsole()
	if err != nil {
		return newErr(KindTransport, "open console endpoint: "+err.Error())
	}
	if _, err := console.Write([]byte("binmode\r\n")); err != nil {
		console.Close()
		return newErr(KindTransport, "write binmode: "+err.Error())
	}
	time.Sleep(200 * time.Millisecond)
	if _, err := console.Write([]byte("2\r\n")); err != nil {
		console.Close()
		return newErr(KindTransport, "write BBIO2 selection: "+err.Error())
	}
	time.Sleep(500 * time.Millisecond)
	console.Close()

	bin, err = c.opener.OpenBinary()
	if err != nil {
		return newErr(KindTransport, "open binary endpoint after bootstrap: "+err.Error())
	}
	c.transport = frame.NewTransport(bin)
	return nil
}

// Disconnect closes the binary transport.
func (c *Client) Disconnect() error {
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	return err
}

// TransactRaw is an escape hatch: send request_bytes as-is and return the
// raw response payload.
func (c *Client) TransactRaw(ctx context.Context, requestBytes []byte) ([]byte, error) {
	if c.transport == nil {
		return nil, errNotConnected
	}
	resp, err := c.transport.Transact(ctx, requestBytes)
	if err != nil {
		return nil, translateFrameErr(err)
	}
	return resp, nil
}

func translateFrameErr(err error) error {
	var fe *frame.Error
	if ok := asFrameError(err, &fe); ok {
		switch fe.Kind {
		case frame.KindTimeout:
			return newErr(KindTimeout, fe.Error())
		case frame.KindFraming:
			return newErr(KindFraming, fe.Error())
		default:
			return newErr(KindTransport, fe.Error())
		}
	}
	return newErr(KindTransport, err.Error())
}

func asFrameError(err error, target **frame.Error) bool {
	fe, ok := err.(*frame.Error)
	if ok {
		*target = fe
	}
	return ok
}

// Status performs a debounced StatusRequest/StatusResponse round trip:
// calls within 50ms of the last call return the cached result.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	c.mu.Lock()
	if c.lastStatus != nil && time.Since(c.lastStatusAt) < statusDebounce {
		cached := c.lastStatus
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	return c.statusUncached(ctx)
}

func (c *Client) statusUncached(ctx context.Context) (*StatusResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	b := flatbuffers.NewBuilder(64)
	flatmsg.StatusRequestStart(b)
	flatmsg.StatusRequestAddQueryAll(b, true)
	contents := flatmsg.StatusRequestEnd(b)

	table, err := c.requestWithBuilder(reqCtx, b, flatmsg.ContentsStatusRequest, contents, flatmsg.ContentsStatusResponse)
	if err != nil {
		return nil, err
	}

	sr := &flatmsg.StatusResponse{}
	sr.InitFromTable(table)

	adc := make([]uint16, sr.AdcMvLength())
	for i := range adc {
		adc[i] = sr.AdcMv(i)
	}

	result := &StatusResult{
		VersionFirmwareMajor: sr.VersionFirmwareMajor(),
		VersionFirmwareMinor: sr.VersionFirmwareMinor(),
		VersionHardwareMajor: sr.VersionHardwareMajor(),
		VersionHardwareMinor: sr.VersionHardwareMinor(),
		ModeCurrent:          sr.ModeCurrent(),
		PSUEnabled:           sr.PSUEnabled(),
		PSUSetMV:             sr.PSUSetMV(),
		PSUMeasuredMV:        sr.PSUMeasuredMV(),
		PSUMeasuredMA:        sr.PSUMeasuredMA(),
		PSUCurrentError:      sr.PSUCurrentError(),
		PullupEnabled:        sr.PullupEnabled(),
		IODirection:          sr.IODirection(),
		IOValue:              sr.IOValue(),
		AdcMV:                adc,
	}

	c.mu.Lock()
	c.lastStatus = result
	c.lastStatusAt = time.Now()
	c.mu.Unlock()

	return result, nil
}

// requestWithBuilder finishes the already-built contents table, wraps it in
// a RequestPacket using the same Builder (FlatBuffers requires nested
// objects to be built before their parent starts), and performs the round
// trip.
func (c *Client) requestWithBuilder(ctx context.Context, b *flatbuffers.Builder, contentsType flatmsg.ContentsType, contents flatbuffers.UOffsetT, expect flatmsg.ContentsType) (flatbuffers.Table, error) {
	flatmsg.RequestPacketStart(b)
	flatmsg.RequestPacketAddVersionMajor(b, ProtocolVersionMajor)
	flatmsg.RequestPacketAddMinimumVersionMinor(b, c.minMinor)
	flatmsg.RequestPacketAddContentsType(b, contentsType)
	flatmsg.RequestPacketAddContents(b, contents)
	root := flatmsg.RequestPacketEnd(b)
	b.Finish(root)

	if c.transport == nil {
		return flatbuffers.Table{}, errNotConnected
	}
	respBytes, err := c.transport.Transact(ctx, b.FinishedBytes())
	if err != nil {
		return flatbuffers.Table{}, translateFrameErr(err)
	}

	resp := flatmsg.GetRootAsResponsePacket(respBytes, 0)
	if errStr := resp.Error(); errStr != "" {
		return flatbuffers.Table{}, newErr(KindDevice, errStr)
	}
	if resp.ContentsType() != expect {
		return flatbuffers.Table{}, newErr(KindTypeMismatch, "unexpected response contents type")
	}
	table, ok := resp.ContentsTable()
	if !ok {
		return flatbuffers.Table{}, newErr(KindDevice, "response carried no contents")
	}
	return table, nil
}

// Configure issues a ConfigurationRequest.
func (c *Client) Configure(ctx context.Context, opts ConfigureOptions) error {
	if opts.Mode > ModeOneWire {
		return errUnsupportedMode
	}
	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	b := flatbuffers.NewBuilder(256)

	flatmsg.ModeConfigurationStart(b)
	flatmsg.ModeConfigurationAddSpeed(b, opts.SpeedHz)
	flatmsg.ModeConfigurationAddDataBits(b, opts.DataBits)
	flatmsg.ModeConfigurationAddParity(b, opts.Parity)
	flatmsg.ModeConfigurationAddStopBits(b, opts.StopBits)
	flatmsg.ModeConfigurationAddClockPolarity(b, opts.ClockPolarity)
	flatmsg.ModeConfigurationAddClockPhase(b, opts.ClockPhase)
	flatmsg.ModeConfigurationAddChipSelectIdle(b, opts.ChipSelectIdle)
	modeConfig := flatmsg.ModeConfigurationEnd(b)

	flatmsg.ConfigurationRequestStart(b)
	flatmsg.ConfigurationRequestAddMode(b, uint8(opts.Mode))
	flatmsg.ConfigurationRequestAddModeConfiguration(b, modeConfig)
	flatmsg.ConfigurationRequestAddPSUEnable(b, opts.PSUEnable)
	flatmsg.ConfigurationRequestAddPSUDisable(b, opts.PSUDisable)
	flatmsg.ConfigurationRequestAddPSUSetMV(b, opts.PSUSetMV)
	flatmsg.ConfigurationRequestAddPSUSetMA(b, opts.PSUSetMA)
	flatmsg.ConfigurationRequestAddPullupEnable(b, opts.PullupEnable)
	flatmsg.ConfigurationRequestAddPullupDisable(b, opts.PullupDisable)
	flatmsg.ConfigurationRequestAddIODirectionMask(b, opts.IODirectionMask)
	flatmsg.ConfigurationRequestAddIODirection(b, opts.IODirection)
	flatmsg.ConfigurationRequestAddIOValueMask(b, opts.IOValueMask)
	flatmsg.ConfigurationRequestAddIOValue(b, opts.IOValue)
	flatmsg.ConfigurationRequestAddHardwareReset(b, opts.HardwareReset)
	flatmsg.ConfigurationRequestAddHardwareBootloader(b, opts.HardwareBootloader)
	contents := flatmsg.ConfigurationRequestEnd(b)

	_, err := c.requestWithBuilder(reqCtx, b, flatmsg.ContentsConfigurationRequest, contents, flatmsg.ContentsConfigurationResponse)

	c.mu.Lock()
	c.lastStatus = nil // a configure invalidates the cached status
	c.mu.Unlock()

	return err
}

// Data performs the start/write/read/stop round trip.
func (c *Client) Data(ctx context.Context, opts DataOptions) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
	defer cancel()

	b := flatbuffers.NewBuilder(256 + len(opts.DataWrite))
	writeOffset := flatbuffers.UOffsetT(0)
	if len(opts.DataWrite) > 0 {
		writeOffset = b.CreateByteString(opts.DataWrite)
	}

	flatmsg.DataRequestStart(b)
	flatmsg.DataRequestAddStartMain(b, opts.StartMain)
	flatmsg.DataRequestAddStartAlt(b, opts.StartAlt)
	if writeOffset != 0 {
		flatmsg.DataRequestAddDataWrite(b, writeOffset)
	}
	flatmsg.DataRequestAddBytesRead(b, opts.BytesRead)
	flatmsg.DataRequestAddStopMain(b, opts.StopMain)
	flatmsg.DataRequestAddStopAlt(b, opts.StopAlt)
	contents := flatmsg.DataRequestEnd(b)

	table, err := c.requestWithBuilder(reqCtx, b, flatmsg.ContentsDataRequest, contents, flatmsg.ContentsDataResponse)
	if err != nil {
		return nil, err
	}

	dr := &flatmsg.DataResponse{}
	dr.InitFromTable(table)
	return dr.DataRead(), nil
}
