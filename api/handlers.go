package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"edge-nvr/config"
	"edge-nvr/supervisor"
	"edge-nvr/wshub"
)

// Server bundles the collaborators the admin HTTP surface reads from.
// It holds no state of its own beyond what the supervisor/hub already
// track, mirroring the teacher's thin-handler-over-service style.
type Server struct {
	sup      *supervisor.Supervisor
	hub      *wshub.Hub
	streams  map[string]config.StreamConfig
	upgrader websocket.Upgrader
}

// NewServer returns a Server over sup and hub. streams is the
// configured set of known stream names, keyed by name, used to validate
// start/stop requests against configured cameras rather than letting a
// caller spin up an arbitrary worker for an unconfigured name.
func NewServer(sup *supervisor.Supervisor, hub *wshub.Hub, streams map[string]config.StreamConfig) *Server {
	return &Server{
		sup:     sup,
		hub:     hub,
		streams: streams,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Health reports process liveness and the live-client count, a cheap
// operator smoke-test endpoint (§6).
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"ws_clients":   s.hub.ClientCount(),
		"stream_count": len(s.streams),
	})
}

// ListStreams reports the supervisor's status view for every configured
// stream (§6 "stream status/start/stop").
func (s *Server) ListStreams(c *gin.Context) {
	statuses := make([]gin.H, 0, len(s.streams))
	for name := range s.streams {
		st, ok := s.sup.Status(name)
		if !ok {
			statuses = append(statuses, gin.H{"name": name, "active": false})
			continue
		}
		statuses = append(statuses, statusJSON(st))
	}
	c.JSON(http.StatusOK, gin.H{"streams": statuses})
}

// StreamStatus reports one stream's status.
func (s *Server) StreamStatus(c *gin.Context) {
	name := c.Param("name")
	if _, known := s.streams[name]; !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}
	st, ok := s.sup.Status(name)
	if !ok {
		c.JSON(http.StatusOK, gin.H{"name": name, "active": false})
		return
	}
	c.JSON(http.StatusOK, statusJSON(st))
}

func statusJSON(st supervisor.Status) gin.H {
	h := gin.H{"name": st.Name, "active": st.Active, "phase": string(st.Phase)}
	if st.LastError != nil {
		h["last_error"] = st.LastError.Error()
	}
	return h
}

// StartStream starts (or idempotently no-ops on) the named stream's
// worker (§4.I).
func (s *Server) StartStream(c *gin.Context) {
	name := c.Param("name")
	cfg, known := s.streams[name]
	if !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}
	if err := s.sup.Start(cfg); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"name": name, "requested": "start"})
}

// StopStream stops the named stream's worker (§4.I).
func (s *Server) StopStream(c *gin.Context) {
	name := c.Param("name")
	if _, known := s.streams[name]; !known {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown stream"})
		return
	}
	if err := s.sup.Stop(name); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"name": name, "requested": "stop"})
}

// Events upgrades the request to a websocket and registers it with the
// hub for the live event feed (§6). Register blocks for the lifetime of
// the connection, matching the teacher's per-request WebRTC signaling
// handler shape.
func (s *Server) Events(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.hub.Register(conn)
}
