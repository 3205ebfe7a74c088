package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pincollector/internal/models"
	"pincollector/internal/workflow"
)

const maxUploadSize = 32 << 20

// Pins is the ingestion boundary used by the HTTP handlers.
type Pins interface {
	Submit(ctx context.Context, sub models.PinSubmission) (workflow.Handle, error)
	Status(ctx context.Context, handle string) (*models.WorkflowExecutionState, error)
	List(ctx context.Context) ([]models.PinRecord, error)
	Original(ctx context.Context, key string) ([]byte, error)
	Thumbnail(ctx context.Context, key string) ([]byte, error)
}

type Server struct {
	log    *zap.Logger
	router *gin.Engine
	http   *http.Server
	pins   Pins
	// maxUpload caps the request body of a submission.
	maxUpload int64
}

func NewServer(log *zap.Logger, addr string, pins Pins, gatherer prometheus.Gatherer) *Server {
	r := gin.New()
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = maxUploadSize

	s := &Server{
		log:    log,
		router: r,
		http:   &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second},
		pins:   pins,

		maxUpload: maxUploadSize,
	}

	r.POST("/pins", s.handleSubmit)
	r.GET("/pins", s.handleList)
	r.GET("/pins/:id", s.handleStatus)
	r.GET("/images/:key", s.handleOriginal)
	r.GET("/thumbnails/:key", s.handleThumbnail)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSubmit(c *gin.Context) {
	const op = "server.handleSubmit"

	if c.Request.ContentLength > s.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("%s: body exceeds %d bytes", op, s.maxUpload)})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
	form, err := c.MultipartForm()
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	files := form.File["image"]
	if len(files) != 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request should contain one and only one image"})
		return
	}
	file := files[0]

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}
	defer src.Close()
	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
		return
	}

	handle, err := s.pins.Submit(c.Request.Context(), models.PinSubmission{
		Country:          c.PostForm("country"),
		City:             c.PostForm("city"),
		ImageBytes:       data,
		ImageContentType: file.Header.Get("Content-Type"),
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"id":         handle.PinID,
		"status_url": "/pins/" + handle.PinID,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	const op = "server.handleStatus"

	state, err := s.pins.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleList(c *gin.Context) {
	const op = "server.handleList"

	pins, err := s.pins.List(c.Request.Context())
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	if pins == nil {
		pins = []models.PinRecord{}
	}
	c.JSON(http.StatusOK, pins)
}

func (s *Server) handleOriginal(c *gin.Context) {
	s.serveObject(c, "server.handleOriginal", s.pins.Original)
}

func (s *Server) handleThumbnail(c *gin.Context) {
	s.serveObject(c, "server.handleThumbnail", s.pins.Thumbnail)
}

func (s *Server) serveObject(c *gin.Context, op string, get func(context.Context, string) ([]byte, error)) {
	data, err := get(c.Request.Context(), c.Param("key"))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) writeError(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case models.ErrInvalidSubmission.Has(err):
		status = http.StatusBadRequest
	case models.ErrNotFound.Has(err):
		status = http.StatusNotFound
	case models.ErrUnavailable.Has(err):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("op", op), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": fmt.Sprintf("%s: %v", op, err)})
}
