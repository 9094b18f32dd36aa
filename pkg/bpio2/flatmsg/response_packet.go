package flatmsg

import flatbuffers "github.com/google/flatbuffers/go"

// ResponsePacket mirrors RequestPacket, plus an optional structured error
// string ("a response with a non-empty error string yields
// BpioError::Device(msg)").
type ResponsePacket struct {
	tab flatbuffers.Table
}

func GetRootAsResponsePacket(buf []byte, offset flatbuffers.UOffsetT) *ResponsePacket {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	p := &ResponsePacket{}
	p.tab.Bytes = buf
	p.tab.Pos = n + offset
	return p
}

func (p *ResponsePacket) VersionMajor() uint8 {
	if o := field(&p.tab, 0); o != 0 {
		return p.tab.GetUint8(o)
	}
	return 0
}

func (p *ResponsePacket) VersionMinor() uint8 {
	if o := field(&p.tab, 1); o != 0 {
		return p.tab.GetUint8(o)
	}
	return 0
}

func (p *ResponsePacket) ContentsType() ContentsType {
	if o := field(&p.tab, 2); o != 0 {
		return ContentsType(p.tab.GetUint8(o))
	}
	return ContentsNone
}

func (p *ResponsePacket) ContentsTable() (flatbuffers.Table, bool) {
	o := field(&p.tab, 3)
	if o == 0 {
		return flatbuffers.Table{}, false
	}
	var t flatbuffers.Table
	t.Bytes = p.tab.Bytes
	t.Pos = p.tab.Indirect(o)
	return t, true
}

func (p *ResponsePacket) Error() string {
	o := field(&p.tab, 4)
	if o == 0 {
		return ""
	}
	return string(p.tab.ByteVector(o))
}

func ResponsePacketStart(b *flatbuffers.Builder) { b.StartObject(5) }

func ResponsePacketAddVersionMajor(b *flatbuffers.Builder, v uint8) { b.PrependUint8Slot(0, v, 0) }
func ResponsePacketAddVersionMinor(b *flatbuffers.Builder, v uint8) { b.PrependUint8Slot(1, v, 0) }
func ResponsePacketAddContentsType(b *flatbuffers.Builder, v ContentsType) {
	b.PrependUint8Slot(2, byte(v), 0)
}
func ResponsePacketAddContents(b *flatbuffers.Builder, contents flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(3, contents, 0)
}
func ResponsePacketAddError(b *flatbuffers.Builder, errStr flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(4, errStr, 0)
}
func ResponsePacketEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT { return b.EndObject() }
