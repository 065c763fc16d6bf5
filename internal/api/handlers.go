package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"stash/internal/ai"
	"stash/internal/auth"
	"stash/internal/config"
	"stash/internal/events"
	"stash/internal/files"
	"stash/internal/ingest"
	"stash/internal/models"
	"stash/internal/render"
	"stash/internal/store"
)

type Server struct {
	DB        *gorm.DB
	Store     *store.Store
	Ingest    *ingest.Service
	Dispatch  ingest.Dispatcher
	Bus       *events.Bus
	Render    *render.Client
	Assets    *ai.Client
	Auth      config.AuthConfig
	MaxUpload int64
	Log       logrus.FieldLogger
}

type CreateItemRequest struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.health)

	api := r.Group("/api", auth.Middleware(s.Auth))
	api.POST("/items", s.createItem)
	api.GET("/items", s.listItems)
	api.GET("/items/:id", s.getItem)
	api.DELETE("/items/:id", s.deleteItem)
	api.POST("/items/:id/enrich", s.enrichItem)
	api.GET("/events", s.streamEvents)

	admin := api.Group("/settings", auth.RequireAdmin(s.Auth))
	admin.GET("/services", s.getServices)
	admin.PUT("/services", s.updateServices)
}

func (s *Server) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "database unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) createItem(c *gin.Context) {
	req := ingest.Request{UserID: auth.UserID(c)}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file required"})
			return
		}
		if s.MaxUpload > 0 && fh.Size > s.MaxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		body, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
			return
		}
		req.Title = c.PostForm("title")
		req.File = &ingest.FileRef{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        body,
		}
	} else {
		var body CreateItemRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
		req.Content = body.Content
		req.Title = body.Title
	}

	res, err := s.Ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		s.writeIngestError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Existed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (s *Server) writeIngestError(c *gin.Context, err error) {
	var verr validation.Errors
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "fields": verr})
	case errors.Is(err, files.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
	case errors.Is(err, files.ErrEmpty):
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is empty"})
	case errors.Is(err, files.ErrUpload):
		s.Log.WithError(err).Warn("file upload failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": "file upload failed"})
	default:
		s.Log.WithError(err).Error("ingest failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save failed"})
	}
}

func (s *Server) listItems(c *gin.Context) {
	limit := queryInt(c, "limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	items, err := s.Store.ListWithMetadata(c.Request.Context(), auth.UserID(c), limit, offset)
	if err != nil {
		s.Log.WithError(err).Error("list items")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
		return
	}
	if items == nil {
		items = []store.ItemView{}
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) getItem(c *gin.Context) {
	view, err := s.Store.GetView(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		s.writeLookupError(c, err)
		return
	}
	if err := s.Store.Touch(c.Request.Context(), view.ID); err != nil {
		s.Log.WithError(err).Debug("touch item")
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) deleteItem(c *gin.Context) {
	if err := s.Store.Delete(c.Request.Context(), auth.UserID(c), c.Param("id")); err != nil {
		s.writeLookupError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// enrichItem schedules another enrichment attempt for an item.
func (s *Server) enrichItem(c *gin.Context) {
	item, err := s.Store.GetForUser(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		s.writeLookupError(c, err)
		return
	}
	if err := s.Store.SetStatus(c.Request.Context(), item.ID, models.StatusPending, ""); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db update failed"})
		return
	}
	if !s.Dispatch.Submit(item.ID) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "enrichment queue full"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": item.ID, "status": models.StatusPending})
}

func (s *Server) streamEvents(c *gin.Context) {
	s.Bus.ServeSSE(c, auth.UserID(c))
}

func (s *Server) writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	s.Log.WithError(err).Error("item lookup")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
