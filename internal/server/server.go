// Package server is the local dashboard behind `casegen serve`.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ldi/casegen/embed/dashboard"
	"github.com/ldi/casegen/internal/db"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/httpclient"
	"github.com/ldi/casegen/internal/metrics"
	"github.com/ldi/casegen/pkg/models"
)

const historyLimit = 50

type GraphSource interface {
	GetKnowledgeGraph(ctx context.Context, businessType string) (*models.KnowledgeGraph, error)
}

type TaskSource interface {
	Snapshot() []models.Task
}

type Server struct {
	graph   GraphSource
	tasks   TaskSource
	db      *db.DB
	metrics *metrics.Metrics
	logger  *zap.Logger
	engine  *gin.Engine
	server  *http.Server
}

// NewServer wires the routes. Any of tasks, database and m may be nil.
func NewServer(graph GraphSource, tasks TaskSource, database *db.DB, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		graph:   graph,
		tasks:   tasks,
		db:      database,
		metrics: m,
		logger:  logger,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLog(s.logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	api := r.Group("/api")
	api.GET("/graph", s.handleGraph)
	api.GET("/tasks", s.handleTasks)

	r.GET("/", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", dashboard.Index)
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks until the server stops. A clean Shutdown returns nil.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("dashboard listening", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) handleGraph(c *gin.Context) {
	if s.graph == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "knowledge graph unavailable"})
		return
	}
	g, err := s.graph.GetKnowledgeGraph(c.Request.Context(), c.Query("business_type"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if g.Nodes == nil {
		g.Nodes = []models.GraphNode{}
	}
	if g.Edges == nil {
		g.Edges = []models.GraphEdge{}
	}
	c.JSON(http.StatusOK, g)
}

type tasksResponse struct {
	Active  []models.Task  `json:"active"`
	History []*models.Task `json:"history"`
}

// handleTasks returns the tasks watched by this process plus the recorded history.
func (s *Server) handleTasks(c *gin.Context) {
	resp := tasksResponse{Active: []models.Task{}, History: []*models.Task{}}
	if s.tasks != nil {
		for _, t := range s.tasks.Snapshot() {
			if !t.IsTerminal() {
				resp.Active = append(resp.Active, t)
			}
		}
	}
	if s.db != nil {
		history, err := s.db.ListTasks(c.Request.Context(), models.TaskStatus(c.Query("status")), c.Query("business_type"), historyLimit)
		if err != nil {
			s.fail(c, err)
			return
		}
		if history != nil {
			resp.History = history
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if apiErr, ok := httpclient.AsAPIError(err); ok {
		status = http.StatusBadGateway
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			status = apiErr.StatusCode
		}
	}
	s.logger.Warn("dashboard request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(status, gin.H{"error": errs.Translate(err)})
}

func requestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
		}
		switch {
		case status >= 500:
			logger.Error("http request", fields...)
		case status >= 400:
			logger.Warn("http request", fields...)
		default:
			logger.Debug("http request", fields...)
		}
	}
}
