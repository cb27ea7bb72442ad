// Package api exposes floor-plan analyses over HTTP and a websocket
// progress stream.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"FloorAuditServer/engine"
	iface "FloorAuditServer/interface"
	"FloorAuditServer/logger"
	"FloorAuditServer/monitor"
	"FloorAuditServer/report"
	"FloorAuditServer/store"

	"github.com/disintegration/imaging"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ServerOptions struct {
	DefaultBuildingType   iface.BuildingType
	DefaultPixelsPerMeter float64
	MaxPages              int
	MaxUploadBytes        int64
	Metrics               *monitor.Metrics
}

type Server struct {
	svc      *Service
	opts     ServerOptions
	router   *gin.Engine
	upgrader websocket.Upgrader
}

func NewServer(svc *Service, opts ServerOptions) *Server {
	if opts.DefaultBuildingType == "" {
		opts.DefaultBuildingType = iface.Overview
	}
	if opts.DefaultPixelsPerMeter <= 0 {
		opts.DefaultPixelsPerMeter = 50
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = 20
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 64 << 20
	}
	s := &Server{
		svc:    svc,
		opts:   opts,
		router: gin.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.router.Use(gin.Recovery(), requestLogger())
	s.router.MaxMultipartMemory = opts.MaxUploadBytes
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/engines", s.engines)
	r.POST("/api/engines/:id/reset", s.resetEngine)
	r.GET("/api/analyses", s.listAnalyses)
	r.POST("/api/analyses", s.createAnalysis)
	r.GET("/api/analyses/:id", s.getAnalysis)
	r.DELETE("/api/analyses/:id", s.cancelAnalysis)
	r.GET("/api/analyses/:id/report.txt", s.textReport)
	r.GET("/api/analyses/:id/report.pdf", s.pdfReport)
	r.GET("/ws/:id", s.progress)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (s *Server) engines(c *gin.Context) {
	reg := s.svc.Registry()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"defaultModelSet": s.svc.DefaultModelSet(),
		"modelSets":       reg.SetNames(),
		"engines":         reg.All(),
	}})
}

// resetEngine clears a detector's load failure so the next analysis retries.
func (s *Server) resetEngine(c *gin.Context) {
	info, err := s.svc.Registry().Reset(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": info})
}

func formPages(form *multipart.Form) []*multipart.FileHeader {
	var files []*multipart.FileHeader
	for _, key := range []string{"pages[]", "pages", "file"} {
		files = append(files, form.File[key]...)
	}
	return files
}

func decodePage(fh *multipart.FileHeader) (image.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return imaging.Decode(f, imaging.AutoOrientation(true))
}

func (s *Server) createAnalysis(c *gin.Context) {
	if s.opts.Metrics != nil {
		s.opts.Metrics.RequestsTotal.WithLabelValues("http").Inc()
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Expected a multipart form with page images: " + err.Error()})
		return
	}
	files := formPages(form)
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No page images uploaded; send them as pages[]"})
		return
	}
	if len(files) > s.opts.MaxPages {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Too many pages: %d (limit %d)", len(files), s.opts.MaxPages)})
		return
	}

	bt := s.opts.DefaultBuildingType
	if v := c.PostForm("buildingType"); v != "" {
		parsed, err := iface.ParseBuildingType(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid buildingType %q; use one of %v", v, iface.BuildingTypes)})
			return
		}
		bt = parsed
	}
	ppm := s.opts.DefaultPixelsPerMeter
	if v := c.PostForm("pixelsPerMeter"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid pixelsPerMeter %q; must be a positive number", v)})
			return
		}
		ppm = parsed
	}

	pages := make([]image.Image, 0, len(files))
	names := make([]string, 0, len(files))
	for _, fh := range files {
		img, err := decodePage(fh)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Cannot decode %s as an image: %v", fh.Filename, err)})
			return
		}
		pages = append(pages, img)
		names = append(names, fh.Filename)
	}

	job, err := s.svc.Submit(Submission{
		Pages:          pages,
		FileName:       strings.Join(names, ", "),
		ModelSet:       c.PostForm("modelSet"),
		BuildingType:   bt,
		PixelsPerMeter: ppm,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{
		"id":    job.ID,
		"state": job.State(),
		"wsURL": fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, job.ID),
	}})
}

func writeError(c *gin.Context, err error) {
	var inputErr *InputError
	switch {
	case errors.As(err, &inputErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnknownModelSet):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error() + "; see GET /api/engines"})
	case errors.Is(err, ErrJobNotFound), errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
	case errors.Is(err, ErrJobFinished):
		c.JSON(http.StatusConflict, gin.H{"error": "Analysis already finished"})
	case errors.Is(err, engine.ErrDetectorNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Engine not found"})
	case errors.Is(err, engine.ErrLoading):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrServiceClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) listAnalyses(c *gin.Context) {
	rec := s.svc.Store()
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"data": []store.Session{}})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := rec.List(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (s *Server) getAnalysis(c *gin.Context) {
	id := c.Param("id")
	if job, err := s.svc.Get(id); err == nil {
		c.JSON(http.StatusOK, gin.H{"data": job.View()})
		return
	}
	sess, err := s.stored(c, id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sess})
}

func (s *Server) stored(c *gin.Context, id string) (*store.Session, error) {
	rec := s.svc.Store()
	if rec == nil {
		return nil, ErrJobNotFound
	}
	return rec.Get(c.Request.Context(), id)
}

func (s *Server) cancelAnalysis(c *gin.Context) {
	id := c.Param("id")
	if err := s.svc.Cancel(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "Analysis canceled"})
}

// finished resolves a succeeded analysis from memory or the store.
func (s *Server) finished(c *gin.Context) (*iface.AnalysisResult, report.Meta, bool) {
	id := c.Param("id")
	if job, err := s.svc.Get(id); err == nil {
		result, at, ok := job.Result()
		if !ok {
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Analysis is %s; reports are available once it has succeeded", job.State())})
			return nil, report.Meta{}, false
		}
		return result, report.Meta{
			GeneratedAt:  at,
			BuildingType: job.BuildingType,
			ModelSet:     job.ModelSet,
			Pages:        job.Pages,
		}, true
	}
	sess, err := s.stored(c, id)
	if err != nil {
		writeError(c, err)
		return nil, report.Meta{}, false
	}
	if sess.Result == nil || sess.CompletedAt == nil {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("Analysis is %s; reports are available once it has succeeded", sess.Status)})
		return nil, report.Meta{}, false
	}
	return sess.Result, report.Meta{
		GeneratedAt:  *sess.CompletedAt,
		BuildingType: iface.BuildingType(sess.BuildingType),
		ModelSet:     sess.ModelSet,
		Pages:        sess.Pages,
	}, true
}

func (s *Server) textReport(c *gin.Context) {
	result, meta, ok := s.finished(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName(*result, "txt")))
	c.String(http.StatusOK, report.Text(*result, meta))
}

func (s *Server) pdfReport(c *gin.Context) {
	result, meta, ok := s.finished(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.PDF(&buf, *result, meta); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, report.FileName(*result, "pdf")))
	c.Data(http.StatusOK, "application/pdf", buf.Bytes())
}

// progress streams a job's updates over a websocket until it finishes.
// A text message "cancel" from the client cancels the job.
func (s *Server) progress(c *gin.Context) {
	id := c.Param("id")
	job, err := s.svc.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Analysis not found"})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1024)

	past, updates, unsubscribe := job.Subscribe()
	defer unsubscribe()

	go func() {
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage && strings.TrimSpace(string(msg)) == "cancel" {
				if err := s.svc.Cancel(id); err != nil {
					logger.Log().Debug("Cancel over websocket ignored", zap.String("job", id), zap.Error(err))
				}
			}
		}
	}()

	for _, u := range past {
		if err := conn.WriteJSON(u); err != nil {
			return
		}
	}
	for u := range updates {
		if err := conn.WriteJSON(u); err != nil {
			logger.Log().Debug("Progress stream closed", zap.String("job", id), zap.Error(err))
			return
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "analysis "+string(job.State())))
}

