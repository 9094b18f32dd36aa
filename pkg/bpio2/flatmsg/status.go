package flatmsg

import flatbuffers "github.com/google/flatbuffers/go"

// StatusRequest carries the query mask from bpio_client.py's
// status_request(), simplified here to a single "all fields" flag — the
// core only ever asks for the full status dict.
type StatusRequest struct {
	tab flatbuffers.Table
}

func GetRootAsStatusRequest(buf []byte, offset flatbuffers.UOffsetT) *StatusRequest {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	s := &StatusRequest{}
	s.tab.Bytes = buf
	s.tab.Pos = n + offset
	return s
}

func (s *StatusRequest) QueryAll() bool {
	if o := field(&s.tab, 0); o != 0 {
		return s.tab.GetBool(o)
	}
	return false
}

func StatusRequestStart(b *flatbuffers.Builder)           { b.StartObject(1) }
func StatusRequestAddQueryAll(b *flatbuffers.Builder, v bool) { b.PrependBoolSlot(0, v, false) }
func StatusRequestEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT { return b.EndObject() }

// StatusResponse is a representative subset of the roughly thirty fields
// bpio_client.py's status_request() parses out of the firmware's status
// dict: version strings, mode, PSU telemetry,
// pull-ups, IO state, and per-pin ADC readings.
type StatusResponse struct {
	tab flatbuffers.Table
}

func GetRootAsStatusResponse(buf []byte, offset flatbuffers.UOffsetT) *StatusResponse {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	s := &StatusResponse{}
	s.tab.Bytes = buf
	s.tab.Pos = n + offset
	return s
}

func (s *StatusResponse) InitFromTable(t flatbuffers.Table) { s.tab = t }

func (s *StatusResponse) VersionFirmwareMajor() uint8 {
	if o := field(&s.tab, 0); o != 0 {
		return s.tab.GetUint8(o)
	}
	return 0
}
func (s *StatusResponse) VersionFirmwareMinor() uint8 {
	if o := field(&s.tab, 1); o != 0 {
		return s.tab.GetUint8(o)
	}
	return 0
}
func (s *StatusResponse) VersionHardwareMajor() uint8 {
	if o := field(&s.tab, 2); o != 0 {
		return s.tab.GetUint8(o)
	}
	return 0
}
func (s *StatusResponse) VersionHardwareMinor() uint8 {
	if o := field(&s.tab, 3); o != 0 {
		return s.tab.GetUint8(o)
	}
	return 0
}
func (s *StatusResponse) ModeCurrent() string {
	o := field(&s.tab, 4)
	if o == 0 {
		return ""
	}
	return string(s.tab.ByteVector(o))
}
func (s *StatusResponse) PSUEnabled() bool {
	if o := field(&s.tab, 5); o != 0 {
		return s.tab.GetBool(o)
	}
	return false
}
func (s *StatusResponse) PSUSetMV() uint32 {
	if o := field(&s.tab, 6); o != 0 {
		return s.tab.GetUint32(o)
	}
	return 0
}
func (s *StatusResponse) PSUMeasuredMV() uint32 {
	if o := field(&s.tab, 7); o != 0 {
		return s.tab.GetUint32(o)
	}
	return 0
}
func (s *StatusResponse) PSUMeasuredMA() uint32 {
	if o := field(&s.tab, 8); o != 0 {
		return s.tab.GetUint32(o)
	}
	return 0
}
func (s *StatusResponse) PSUCurrentError() bool {
	if o := field(&s.tab, 9); o != 0 {
		return s.tab.GetBool(o)
	}
	return false
}
func (s *StatusResponse) PullupEnabled() bool {
	if o := field(&s.tab, 10); o != 0 {
		return s.tab.GetBool(o)
	}
	return false
}
func (s *StatusResponse) IODirection() uint32 {
	if o := field(&s.tab, 11); o != 0 {
		return s.tab.GetUint32(o)
	}
	return 0
}
func (s *StatusResponse) IOValue() uint32 {
	if o := field(&s.tab, 12); o != 0 {
		return s.tab.GetUint32(o)
	}
	return 0
}
func (s *StatusResponse) AdcMvLength() int {
	o := field(&s.tab, 13)
	if o == 0 {
		return 0
	}
	return s.tab.VectorLen(o)
}
func (s *StatusResponse) AdcMv(j int) uint16 {
	o := field(&s.tab, 13)
	if o == 0 {
		return 0
	}
	a := s.tab.Vector(o)
	return s.tab.GetUint16(a + flatbuffers.UOffsetT(j*2))
}

func StatusResponseStart(b *flatbuffers.Builder) { b.StartObject(14) }
func StatusResponseAddVersionFirmwareMajor(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(0, v, 0)
}
func StatusResponseAddVersionFirmwareMinor(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(1, v, 0)
}
func StatusResponseAddVersionHardwareMajor(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(2, v, 0)
}
func StatusResponseAddVersionHardwareMinor(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(3, v, 0)
}
func StatusResponseAddModeCurrent(b *flatbuffers.Builder, v flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(4, v, 0)
}
func StatusResponseAddPSUEnabled(b *flatbuffers.Builder, v bool)  { b.PrependBoolSlot(5, v, false) }
func StatusResponseAddPSUSetMV(b *flatbuffers.Builder, v uint32) { b.PrependUint32Slot(6, v, 0) }
func StatusResponseAddPSUMeasuredMV(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(7, v, 0)
}
func StatusResponseAddPSUMeasuredMA(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(8, v, 0)
}
func StatusResponseAddPSUCurrentError(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(9, v, false)
}
func StatusResponseAddPullupEnabled(b *flatbuffers.Builder, v bool) {
	b.PrependBoolSlot(10, v, false)
}
func StatusResponseAddIODirection(b *flatbuffers.Builder, v uint32) {
	b.PrependUint32Slot(11, v, 0)
}
func StatusResponseAddIOValue(b *flatbuffers.Builder, v uint32) { b.PrependUint32Slot(12, v, 0) }
func StatusResponseAddAdcMv(b *flatbuffers.Builder, v flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(13, v, 0)
}
func StatusResponseEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT { return b.EndObject() }
