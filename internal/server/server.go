package server

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/mixelka/codeinbox/internal/database"
	"github.com/mixelka/codeinbox/internal/watcher"
)

// Server exposes the read-only query surface over the code store
type Server struct {
	db      *database.DB
	watcher *watcher.Watcher
	account string
	logger  *slog.Logger
}

// New creates the query server
func New(db *database.DB, w *watcher.Watcher, account string, logger *slog.Logger) *Server {
	return &Server{
		db:      db,
		watcher: w,
		account: account,
		logger:  logger.With("component", "server"),
	}
}

// Router builds the gin engine with all query routes
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/message/last", s.handleLastMessage)
		api.GET("/code/last", s.handleLastCode)
		api.GET("/code/last-from", s.handleLastCodeFromSender)
		api.GET("/code/last-to", s.handleLastCodeToRecipient)
		api.GET("/status", s.handleStatus)
	}

	return r
}
