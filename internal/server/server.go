package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"document-qa/internal/models"
	"document-qa/internal/rag"
)

const (
	// DefaultMaxUploadSize bounds the body of one multipart upload.
	DefaultMaxUploadSize = "64M"
	uploadField          = "files"
)

type Server struct {
	manager *rag.Manager
	echo    *echo.Echo
}

type sessionResponse struct {
	ID string `json:"id"`
}

type messageResponse struct {
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	History []models.Turn `json:"history"`
}

type statusResponse struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Status string `json:"status"`
	Turns  int    `json:"turns"`
	Chunks int    `json:"chunks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New wires the routes. gatherer serves /metrics; nil falls back to the
// default registry. maxUpload is a size such as "64M" limiting upload bodies;
// empty means DefaultMaxUploadSize.
func New(manager *rag.Manager, gatherer prometheus.Gatherer, maxUpload string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if maxUpload == "" {
		maxUpload = DefaultMaxUploadSize
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler
	e.Use(middleware.Recover())
	e.Use(requestLogger)

	s := &Server{manager: manager, echo: e}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api/sessions")
	api.POST("", s.createSession)
	api.DELETE("/:id", s.deleteSession)
	api.POST("/:id/upload", s.upload, middleware.BodyLimit(maxUpload))
	api.POST("/:id/chat", s.chat)
	api.POST("/:id/reset", s.reset)
	api.GET("/:id/status", s.status)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start blocks serving on address until Shutdown is called.
func (s *Server) Start(address string) error {
	log.Info().Str("address", address).Msg("HTTP server listening")
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) session(c echo.Context) (*rag.Session, error) {
	sess, ok := s.manager.Get(c.Param("id"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	return sess, nil
}

func (s *Server) createSession(c echo.Context) error {
	sess, err := s.manager.Create()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sessionResponse{ID: sess.ID()})
}

func (s *Server) deleteSession(c echo.Context) error {
	if !s.manager.Delete(c.Request().Context(), c.Param("id")) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown session")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) upload(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
		return err
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
	}

	var files []rag.File
	for _, fh := range form.File[uploadField] {
		f, err := fh.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("open %s: %v", fh.Filename, err))
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read %s: %v", fh.Filename, err))
		}
		files = append(files, rag.File{Name: fh.Filename, Data: data})
	}

	summary, err := sess.Upload(c.Request().Context(), files)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: summary, Status: sess.Status()})
}

func (s *Server) chat(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	history := sess.Query(c.Request().Context(), req.Message)
	if history == nil {
		history = []models.Turn{}
	}
	return c.JSON(http.StatusOK, chatResponse{History: history})
}

func (s *Server) reset(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messageResponse{Message: sess.Reset(c.Request().Context()), Status: sess.Status()})
}

func (s *Server) status(c echo.Context) error {
	sess, err := s.session(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusResponse{
		ID:     sess.ID(),
		State:  sess.State().String(),
		Status: sess.Status(),
		Turns:  len(sess.History()),
		Chunks: len(sess.Chunks()),
	})
}

// errorHandler renders every error as {"error": "..."} with a status derived
// from the error kind.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code, msg := statusFor(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	if err := c.JSON(code, errorResponse{Error: msg}); err != nil {
		log.Warn().Err(err).Msg("Failed to write error response")
	}
}

func statusFor(err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, fmt.Sprint(he.Message)
	}
	switch {
	case errors.Is(err, models.ErrNoFiles):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrUploadSuperseded):
		return http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrEmbeddingService), errors.Is(err, models.ErrGenerationService):
		return http.StatusBadGateway, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		path := c.Request().URL.Path
		if !strings.HasPrefix(path, "/metrics") {
			log.Debug().
				Str("method", c.Request().Method).
				Str("path", path).
				Dur("took", time.Since(start)).
				Err(err).
				Msg("HTTP request")
		}
		return err
	}
}
