package flatmsg

import flatbuffers "github.com/google/flatbuffers/go"

// RequestPacket is the root table of every BPIO2 request:
// version_major, min_minor, contents_type, contents.
type RequestPacket struct {
	tab flatbuffers.Table
}

// GetRootAsRequestPacket reads a finished RequestPacket buffer.
func GetRootAsRequestPacket(buf []byte, offset flatbuffers.UOffsetT) *RequestPacket {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	p := &RequestPacket{}
	p.tab.Bytes = buf
	p.tab.Pos = n + offset
	return p
}

func (p *RequestPacket) VersionMajor() uint8 {
	if o := field(&p.tab, 0); o != 0 {
		return p.tab.GetUint8(o)
	}
	return 0
}

func (p *RequestPacket) MinimumVersionMinor() uint8 {
	if o := field(&p.tab, 1); o != 0 {
		return p.tab.GetUint8(o)
	}
	return 0
}

func (p *RequestPacket) ContentsType() ContentsType {
	if o := field(&p.tab, 2); o != 0 {
		return ContentsType(p.tab.GetUint8(o))
	}
	return ContentsNone
}

// ContentsTable returns the raw table offset of the union payload; callers
// re-wrap it with the accessor matching ContentsType (e.g.
// GetRootAsConfigurationRequest-style Init, but offset-relative rather than
// buffer-rooted since it is a nested table, not a second root).
func (p *RequestPacket) ContentsTable() (flatbuffers.Table, bool) {
	o := field(&p.tab, 3)
	if o == 0 {
		return flatbuffers.Table{}, false
	}
	var t flatbuffers.Table
	t.Bytes = p.tab.Bytes
	t.Pos = p.tab.Indirect(o)
	return t, true
}

// RequestPacketStart/Add*/End build a RequestPacket. buildContents must have
// already been called (its offset captured) before RequestPacketStart, per
// FlatBuffers' rule that nested objects finish before their parent starts.
func RequestPacketStart(b *flatbuffers.Builder) {
	b.StartObject(4)
}

func RequestPacketAddVersionMajor(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(0, v, 0)
}

func RequestPacketAddMinimumVersionMinor(b *flatbuffers.Builder, v uint8) {
	b.PrependUint8Slot(1, v, 0)
}

func RequestPacketAddContentsType(b *flatbuffers.Builder, v ContentsType) {
	b.PrependUint8Slot(2, byte(v), 0)
}

func RequestPacketAddContents(b *flatbuffers.Builder, contents flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(3, contents, 0)
}

func RequestPacketEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT {
	return b.EndObject()
}
