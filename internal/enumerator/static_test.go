package enumerator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"hwh/pkg/descriptor"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	descs, err := s.Scan()
	require.NoError(t, err)
	require.Empty(t, descs)
}

func TestLoadParsesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	const body = `[
		{
			"id": "tigard:0",
			"name": "Tigard",
			"kind": "tigard",
			"vendor_id": 1027,
			"product_id": 24597,
			"serial": "ABC123",
			"capabilities": ["jtag", "swd", "uart"],
			"endpoints": [{"path": "/dev/ttyUSB0", "role": "uart"}]
		}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	descs, err := s.Scan()
	require.NoError(t, err)
	require.Len(t, descs, 1)

	d := descs[0]
	require.Equal(t, "tigard:0", d.ID)
	require.Equal(t, "tigard", d.Kind)
	require.Equal(t, uint16(1027), d.VendorID)
	require.True(t, d.Capabilities[descriptor.CapJTAG])
	require.True(t, d.Capabilities[descriptor.CapUART])

	ep, ok := d.Endpoint("uart")
	require.True(t, ok)
	require.Equal(t, "/dev/ttyUSB0", ep.Path)
}

func TestEventsChannelClosed(t *testing.T) {
	s := &Static{}
	_, open := <-s.Events()
	require.False(t, open)
}
