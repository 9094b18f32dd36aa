package flatmsg

import flatbuffers "github.com/google/flatbuffers/go"

// DataRequest mirrors bpio_client.py's data_request(start_main, start_alt,
// data_write, bytes_read, stop_main, stop_alt).
type DataRequest struct {
	tab flatbuffers.Table
}

func GetRootAsDataRequest(buf []byte, offset flatbuffers.UOffsetT) *DataRequest {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	d := &DataRequest{}
	d.tab.Bytes = buf
	d.tab.Pos = n + offset
	return d
}

func (d *DataRequest) InitFromTable(t flatbuffers.Table) { d.tab = t }

func (d *DataRequest) StartMain() bool {
	if o := field(&d.tab, 0); o != 0 {
		return d.tab.GetBool(o)
	}
	return false
}
func (d *DataRequest) StartAlt() bool {
	if o := field(&d.tab, 1); o != 0 {
		return d.tab.GetBool(o)
	}
	return false
}
func (d *DataRequest) DataWrite() []byte {
	o := field(&d.tab, 2)
	if o == 0 {
		return nil
	}
	return d.tab.ByteVector(o)
}
func (d *DataRequest) BytesRead() uint32 {
	if o := field(&d.tab, 3); o != 0 {
		return d.tab.GetUint32(o)
	}
	return 0
}
func (d *DataRequest) StopMain() bool {
	if o := field(&d.tab, 4); o != 0 {
		return d.tab.GetBool(o)
	}
	return false
}
func (d *DataRequest) StopAlt() bool {
	if o := field(&d.tab, 5); o != 0 {
		return d.tab.GetBool(o)
	}
	return false
}

func DataRequestStart(b *flatbuffers.Builder) { b.StartObject(6) }
func DataRequestAddStartMain(b *flatbuffers.Builder, v bool)  { b.PrependBoolSlot(0, v, false) }
func DataRequestAddStartAlt(b *flatbuffers.Builder, v bool)   { b.PrependBoolSlot(1, v, false) }
func DataRequestAddDataWrite(b *flatbuffers.Builder, v flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(2, v, 0)
}
func DataRequestAddBytesRead(b *flatbuffers.Builder, v uint32) { b.PrependUint32Slot(3, v, 0) }
func DataRequestAddStopMain(b *flatbuffers.Builder, v bool)    { b.PrependBoolSlot(4, v, false) }
func DataRequestAddStopAlt(b *flatbuffers.Builder, v bool)     { b.PrependBoolSlot(5, v, false) }
func DataRequestEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT { return b.EndObject() }

// DataResponse carries the bytes read back from the device, or none if the
// request was write-only.
type DataResponse struct {
	tab flatbuffers.Table
}

func GetRootAsDataResponse(buf []byte, offset flatbuffers.UOffsetT) *DataResponse {
	n := flatbuffers.GetUOffsetT(buf[offset:])
	d := &DataResponse{}
	d.tab.Bytes = buf
	d.tab.Pos = n + offset
	return d
}

func (d *DataResponse) InitFromTable(t flatbuffers.Table) { d.tab = t }

func (d *DataResponse) DataRead() []byte {
	o := field(&d.tab, 0)
	if o == 0 {
		return nil
	}
	return d.tab.ByteVector(o)
}

func DataResponseStart(b *flatbuffers.Builder) { b.StartObject(1) }
func DataResponseAddDataRead(b *flatbuffers.Builder, v flatbuffers.UOffsetT) {
	b.PrependUOffsetTSlot(0, v, 0)
}
func DataResponseEnd(b *flatbuffers.Builder) flatbuffers.UOffsetT { return b.EndObject() }
