// Package api is the read-only introspection surface over the device pool
// and coordinator. It is purely an external interface: no protocol-engine
// logic lives here, only snapshots of pool/coordinator state and two
// write endpoints (arm/disarm) that delegate straight to the coordinator.
package api

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"hwh/pkg/backend/pool"
	"hwh/pkg/coordinator"
	"hwh/pkg/descriptor"
)

// Router builds the gin engine. Neither this package nor cmd/hwhd calls
// gin.SetMode, so gin runs in its default mode unless GIN_MODE is set.
type Router struct {
	pool  *pool.Pool
	coord *coordinator.Coordinator
	r     *gin.Engine
}

// New wires every route against pool and coord.
func New(p *pool.Pool, c *coordinator.Coordinator) *Router {
	r := gin.New()
	r.Use(gin.Recovery())

	router := &Router{pool: p, coord: c, r: r}
	r.GET("/devices", router.listDevices)
	r.GET("/devices/:id", router.getDevice)
	r.GET("/routes", router.listRoutes)
	r.GET("/events", router.listEvents)
	r.POST("/routes/:name/arm", router.armRoute)
	r.POST("/routes/:name/disarm", router.disarmRoute)
	return router
}

// Engine exposes the underlying gin engine for ListenAndServe wiring.
func (a *Router) Engine() *gin.Engine { return a.r }

type deviceView struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	Connected    bool     `json:"connected"`
	Capabilities []string `json:"capabilities"`
}

func (a *Router) listDevices(c *gin.Context) {
	descs := a.pool.Descriptors()
	out := make([]deviceView, 0, len(descs))
	for _, d := range descs {
		out = append(out, toDeviceView(d, a.pool.Connected(d.ID)))
	}
	c.JSON(http.StatusOK, out)
}

func (a *Router) getDevice(c *gin.Context) {
	id := c.Param("id")
	d, ok := a.pool.Descriptor(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
		return
	}
	view := toDeviceView(d, a.pool.Connected(id))
	c.JSON(http.StatusOK, gin.H{
		"id":           view.ID,
		"name":         view.Name,
		"kind":         view.Kind,
		"connected":    view.Connected,
		"capabilities": view.Capabilities,
		"info":         a.pool.Info(id),
	})
}

func toDeviceView(d descriptor.Descriptor, connected bool) deviceView {
	caps := make([]string, 0, len(d.Capabilities))
	for c, on := range d.Capabilities {
		if on {
			caps = append(caps, string(c))
		}
	}
	sort.Strings(caps)
	return deviceView{
		ID:           d.ID,
		Name:         d.Name,
		Kind:         d.Kind,
		Connected:    connected,
		Capabilities: caps,
	}
}

type routeView struct {
	Name           string `json:"name"`
	SourceDeviceID string `json:"source_device_id"`
	SourcePattern  string `json:"source_pattern"`
	TargetDeviceID string `json:"target_device_id"`
	Enabled        bool   `json:"enabled"`
	DebounceMs     int    `json:"debounce_ms"`
	CooldownMs     int    `json:"cooldown_ms"`
	FiredCount     uint64 `json:"fired_count"`
	LastFireTime   string `json:"last_fire_time,omitempty"`
}

func (a *Router) listRoutes(c *gin.Context) {
	routes := a.coord.Routes()
	out := make([]routeView, 0, len(routes))
	for _, r := range routes {
		v := routeView{
			Name:           r.Name,
			SourceDeviceID: r.SourceDeviceID,
			SourcePattern:  r.SourcePattern,
			TargetDeviceID: r.Action.TargetDeviceID,
			Enabled:        r.Enabled,
			DebounceMs:     r.DebounceMs,
			CooldownMs:     r.CooldownMs,
			FiredCount:     r.FiredCount(),
		}
		if t := r.LastFireTime(); !t.IsZero() {
			v.LastFireTime = t.Format(time.RFC3339Nano)
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

func (a *Router) listEvents(c *gin.Context) {
	c.JSON(http.StatusOK, a.coord.EventLog())
}

func (a *Router) armRoute(c *gin.Context) {
	name := c.Param("name")
	if err := a.coord.SetEnabled(name, true); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err := a.coord.Arm(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"armed": true})
}

func (a *Router) disarmRoute(c *gin.Context) {
	name := c.Param("name")
	if err := a.coord.SetEnabled(name, false); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"disabled": name})
}
