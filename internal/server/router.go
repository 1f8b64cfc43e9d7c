package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/extractor/internal/errs"
	"github.com/loykin/extractor/internal/metrics"
	"github.com/loykin/extractor/internal/store"
)

// Runner triggers one extraction for a country.
type Runner interface {
	Insert(ctx context.Context, country string) (int64, error)
}

// Router exposes the extractor over HTTP.
// Endpoints:
//
//	GET  /health
//	GET  {basePath}/api/v1/timezone/fullmap
//	GET  {basePath}/api/v1/datastores/values/:region
//	POST {basePath}/api/v1/run/:country
//	GET  /metrics
//
// The timezone and datastore endpoints serve static data for local runs.
type Router struct {
	runner   Runner
	basePath string
	logger   *slog.Logger
}

// NewRouter constructs a Router. runner may be nil, in which case the run
// endpoint answers 503.
func NewRouter(runner Runner, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{runner: runner, basePath: sanitizeBase(basePath), logger: logger}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog)
	g.GET("/health", r.handleHealth)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := g.Group(r.basePath + "/api/v1")
	api.GET("/timezone/fullmap", r.handleTimezones)
	api.GET("/datastores/values/:region", r.handleValues)
	api.POST("/run/:country", r.handleRun)
	return g
}

// NewServer builds an http.Server for addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully. TLS is
// used when both certFile and keyFile are set.
func Serve(ctx context.Context, srv *http.Server, certFile, keyFile string) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// --- Handlers ---

type errorResp struct {
	Message string `json:"message"`
}

type runResp struct {
	Country string `json:"country"`
	Rows    int64  `json:"rows"`
}

func (r *Router) handleHealth(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain", []byte("ok"))
}

func (r *Router) handleTimezones(c *gin.Context) {
	writeJSON(c, http.StatusOK, stubTimezones)
}

func (r *Router) handleValues(c *gin.Context) {
	list, ok := stubValueList(c.Param("region"))
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Message: "unknown region " + c.Param("region")})
		return
	}
	writeJSON(c, http.StatusOK, list)
}

func (r *Router) handleRun(c *gin.Context) {
	country := store.NormalizeCountry(c.Param("country"))
	if !store.ValidCountry(country) {
		writeJSON(c, http.StatusBadRequest, errorResp{Message: "invalid country " + country})
		return
	}
	if r.runner == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Message: "extractor not configured"})
		return
	}
	rows, err := r.runner.Insert(c.Request.Context(), country)
	if err != nil {
		r.logger.Error("Extraction request failed", "country", country, "error", err, "kind", errs.Kind(err))
		writeJSON(c, http.StatusInternalServerError, errorResp{Message: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, runResp{Country: country, Rows: rows})
}

func (r *Router) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	r.logger.Debug("HTTP request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"duration", time.Since(start))
}
