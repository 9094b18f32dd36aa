package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hwh/pkg/backend"
	"hwh/pkg/backend/pool"
	"hwh/pkg/coordinator"
	"hwh/pkg/descriptor"
)

type nullInstance struct{}

func (nullInstance) Close() error                                     { return nil }
func (nullInstance) Info() map[string]string                          { return map[string]string{"driver": "null"} }
func (nullInstance) AsBus() (backend.Bus, bool)                       { return nil, false }
func (nullInstance) AsDebug() (backend.Debug, bool)                   { return nil, false }
func (nullInstance) AsGlitch() (backend.Glitch, bool)                 { return nil, false }
func (nullInstance) AsLogicAnalyzer() (backend.LogicAnalyzer, bool)   { return nil, false }

type staticEnum struct{ descs []descriptor.Descriptor }

func (s *staticEnum) Scan() ([]descriptor.Descriptor, error) { return s.descs, nil }
func (s *staticEnum) Events() <-chan descriptor.Event        { return nil }

func newTestRouter(t *testing.T) (*Router, descriptor.Descriptor) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := backend.NewRegistry()
	reg.Register(backend.Driver{Kind: "null", Open: func(ctx context.Context, d descriptor.Descriptor) (backend.Instance, error) {
		return nullInstance{}, nil
	}})
	desc := descriptor.NewDescriptor(0x1209, 0x0001, "p0", "Null Device", "null", descriptor.CapUART)

	p := pool.New(reg, &staticEnum{descs: []descriptor.Descriptor{desc}})
	_, err := p.Scan(context.Background())
	require.NoError(t, err)

	return New(p, coordinator.New(p, 16)), desc
}

func TestListDevices(t *testing.T) {
	router, desc := newTestRouter(t)

	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var views []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, desc.ID, views[0]["id"])
	assert.Equal(t, false, views[0]["connected"])
}

func TestGetDeviceIncludesDriverInfoWhenConnected(t *testing.T) {
	router, desc := newTestRouter(t)
	_, err := router.pool.Open(context.Background(), desc.ID)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/"+desc.ID, nil))
	require.Equal(t, http.StatusOK, w.Code)

	var view map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, true, view["connected"])
	info, ok := view["info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "null", info["driver"])
}

func TestGetDeviceNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	router.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/devices/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
