// Package api exposes the crawler's storage read surface and the
// controller's start/stop verbs over HTTP/JSON, the same read-only
// embedded-server idiom modasi-mika's http package wraps around gin —
// handlers as methods on a struct holding the dependencies they read,
// errors reported through a single helper rather than ad hoc c.JSON
// calls scattered through the handler bodies.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kadcrawl/kadcrawl/internal/controller"
	"github.com/kadcrawl/kadcrawl/internal/logger"
	"github.com/kadcrawl/kadcrawl/internal/storage"
)

var errMissingQuery = errors.New("missing required query parameter: q")

// Server is the embedded read-only API: it never writes to storage
// directly, and its only write-shaped verbs (start/stop) delegate to the
// controller's own idempotent lifecycle methods.
type Server struct {
	store *storage.Store
	ctrl  *controller.Controller
	log   logger.Logger
	eng   *gin.Engine
}

// New builds a Server wired to store for reads and ctrl for lifecycle
// control. Both are concrete types, not interfaces.
func New(store *storage.Store, ctrl *controller.Controller) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{store: store, ctrl: ctrl, log: logger.New("api")}

	eng := gin.New()
	eng.Use(requestID(), gin.Recovery())
	s.routes(eng)
	s.eng = eng
	return s
}

// Handler returns the underlying http.Handler for use with an
// http.Server, letting callers control listener lifecycle (and TLS,
// timeouts) themselves.
func (s *Server) Handler() http.Handler {
	return s.eng
}

func (s *Server) routes(eng *gin.Engine) {
	eng.GET("/api/stats", s.getStats)
	eng.GET("/api/nodes", s.getNodes)
	eng.GET("/api/nodes/:id", s.getNode)
	eng.GET("/api/infohashes", s.getInfohashes)
	eng.GET("/api/infohashes/:hash", s.getInfohash)
	eng.GET("/api/metadata", s.getMetadatas)
	eng.GET("/api/metadata/:hash", s.getMetadataOne)
	eng.GET("/api/search", s.search)
	eng.POST("/api/crawl/start", s.postStart)
	eng.POST("/api/crawl/stop", s.postStop)
}

// requestID assigns a trace id to every request so log lines across the
// handler and any downstream engine calls can be correlated, a second
// UUID source distinct from the peer-session ids minted in btpeer (see
// DESIGN.md).
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"error": err.Error(), "request_id": c.GetString("request_id")})
}

func parseLimit(c *gin.Context, def int) int {
	v := c.Query("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func parseOffset(c *gin.Context) int {
	v := c.Query("offset")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
