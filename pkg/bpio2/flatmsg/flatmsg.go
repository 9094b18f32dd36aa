// Package flatmsg is a hand-written, generator-free FlatBuffers binding for
// the BPIO2 message set. It targets the same low-level
// flatbuffers.Builder/flatbuffers.Table API that `flatc`-generated Go code
// uses, built by hand the way
// _examples/original_source/src/hwh/pybpio/bpio_client.py hand-assembles its
// FlatBuffers tables with manual Start/Add/End calls against the Python
// runtime. There is no .fbs schema file behind this package; the table
// layouts below are the schema, expressed directly as Go accessors.
package flatmsg

import flatbuffers "github.com/google/flatbuffers/go"

// ContentsType tags the table referenced by a RequestPacket/ResponsePacket's
// Contents field — FlatBuffers encodes a union as a type byte plus a table
// offset, which is exactly what RequestPacket/ResponsePacket below do.
type ContentsType byte

const (
	ContentsNone ContentsType = iota
	ContentsConfigurationRequest
	ContentsDataRequest
	ContentsStatusRequest
	ContentsConfigurationResponse
	ContentsDataResponse
	ContentsStatusResponse
)

// field returns the absolute byte offset of vtable slot idx within tab, or 0
// if the field is absent from this buffer — the same helper every
// flatc-generated accessor inlines.
func field(tab *flatbuffers.Table, idx int) flatbuffers.UOffsetT {
	o := flatbuffers.UOffsetT(tab.Offset(flatbuffers.VOffsetT(4 + idx*2)))
	if o == 0 {
		return 0
	}
	return o + tab.Pos
}
