// Package httptrans exposes a compute service over HTTP with JSON bodies, and
// provides the matching client transport for the remote executor.
package httptrans

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ChristianMct/ecd/api"
	"github.com/ChristianMct/ecd/errs"
	"github.com/ChristianMct/ecd/scheme"
	"github.com/ChristianMct/ecd/services/compute"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

const (
	ComputePath = "/v1/compute"
	KeysPath    = "/v1/keys"
	HealthPath  = "/health"
	MetricsPath = "/metrics"

	RequestIDHeader = "X-Request-ID"

	MaxBodySize       = 1024 * 1024 * 32
	ReadHeaderTimeout = 5 * time.Second
)

// errorResponse is the body of non-200 responses.
type errorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns the HTTP handler of svc.
func NewHandler(svc *compute.Service, logger zerolog.Logger) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(logger), RequestMetricsMiddleware())

	r.POST(ComputePath, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)
		var req api.OperationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("%s: malformed request: %s", errs.InvalidInput, err)})
			return
		}
		if req.RequestID == "" {
			req.RequestID = c.GetHeader(RequestIDHeader)
		}
		// failures of the computation are reported in-band
		c.JSON(http.StatusOK, svc.Compute(c.Request.Context(), &req))
	})

	r.POST(KeysPath, func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodySize)
		var pm scheme.PublicMaterial
		if err := c.ShouldBindJSON(&pm); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("%s: malformed public material: %s", errs.InvalidInput, err)})
			return
		}
		fp, err := svc.RegisterKeys(c.Request.Context(), pm)
		if err != nil {
			status := http.StatusInternalServerError
			if _, ok := errs.KindOf(err); ok {
				status = http.StatusUnprocessableEntity
			}
			c.JSON(status, errorResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, api.RegisterKeysResponse{Fingerprint: fp.String()})
	})

	r.GET(HealthPath, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET(MetricsPath, gin.WrapH(promhttp.Handler()))
	return r
}

// Server serves an HTTP handler with a bound on concurrent connections.
type Server struct {
	srv      *http.Server
	maxConns int
}

// NewServer returns a server for h. A positive maxConns bounds the number of
// concurrently accepted connections.
func NewServer(h http.Handler, maxConns int) *Server {
	return &Server{
		srv:      &http.Server{Handler: h, ReadHeaderTimeout: ReadHeaderTimeout},
		maxConns: maxConns,
	}
}

// Serve accepts connections on lis until Shutdown is called.
func (s *Server) Serve(lis net.Listener) error {
	if s.maxConns > 0 {
		lis = netutil.LimitListener(lis, s.maxConns)
	}
	if err := s.srv.Serve(lis); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for active requests until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
