package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatfeed/internal/config"
	"github.com/matheus3301/chatfeed/internal/hub"
	"github.com/matheus3301/chatfeed/internal/store"
	"go.uber.org/zap"
)

// HTTPServer hosts the subscriber websocket and a read-only JSON API.
type HTTPServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewHTTPServer binds the configured listen address.
func NewHTTPServer(cfg *config.Config, h *hub.Hub, db *store.DB, logger *zap.Logger) (*HTTPServer, error) {
	listener, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Server.Listen, err)
	}
	return &HTTPServer{
		srv:      &http.Server{Handler: newRouter(h, db, logger), ReadHeaderTimeout: 10 * time.Second},
		listener: listener,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *HTTPServer) Addr() string { return s.listener.Addr().String() }

// Start serves until Stop. Blocks.
func (s *HTTPServer) Start() error {
	s.logger.Info("HTTP server starting", zap.String("addr", s.Addr()))
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down. Upgraded websockets are closed by the hub.
func (s *HTTPServer) Stop(ctx context.Context) {
	s.logger.Info("HTTP server stopping")
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown", zap.Error(err))
	}
}

func newRouter(h *hub.Hub, db *store.DB, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), accessLog(logger))

	r.GET("/", gin.WrapH(h))
	r.GET("/ws", gin.WrapH(h))
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "subscribers": h.Len()})
	})

	r.GET("/api/chats", func(c *gin.Context) {
		chats, err := db.ListChats(c.Request.Context(), queryInt(c, "offset"), queryInt(c, "limit"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, chats)
	})
	r.GET("/api/chats/:id", func(c *gin.Context) {
		id, ok := chatID(c)
		if !ok {
			return
		}
		chat, err := db.GetChat(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		if chat == nil {
			respondError(c, store.ErrNotFound)
			return
		}
		c.JSON(http.StatusOK, chat)
	})
	r.GET("/api/chats/:id/messages", func(c *gin.Context) {
		id, ok := chatID(c)
		if !ok {
			return
		}
		msgs, err := db.ListMessages(c.Request.Context(), id, queryInt(c, "offset"), queryInt(c, "limit"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, msgs)
	})
	r.GET("/api/chats/:id/search", func(c *gin.Context) {
		id, ok := chatID(c)
		if !ok {
			return
		}
		msgs, err := db.SearchMessages(c.Request.Context(), id, c.Query("q"), queryInt(c, "limit"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, msgs)
	})
	r.POST("/api/chats/:id/read", func(c *gin.Context) {
		id, ok := chatID(c)
		if !ok {
			return
		}
		if err := db.MarkChatRead(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
	return r
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func chatID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return 0, false
	}
	return id, true
}

// queryInt returns 0 for a missing or malformed parameter; the store applies defaults.
func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
