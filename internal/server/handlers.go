package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mixelka/codeinbox/internal/database"
)

// success wraps a payload; a nil data means an explicitly empty result
func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// handleLastMessage returns the most recent message for the configured account
func (s *Server) handleLastMessage(c *gin.Context) {
	msg, err := s.db.GetLastMessage(c.Request.Context(), s.account)
	if errors.Is(err, database.ErrNotFound) {
		success(c, nil)
		return
	}
	if err != nil {
		s.logger.Error("failed to get last message", "error", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	success(c, msg)
}

// handleLastCode dispenses the most recent unused code; the code is marked
// consumed as part of the retrieval
func (s *Server) handleLastCode(c *gin.Context) {
	code, err := s.db.ConsumeLastCode(c.Request.Context(), s.account)
	if errors.Is(err, database.ErrNotFound) {
		success(c, nil)
		return
	}
	if err != nil {
		s.logger.Error("failed to consume code", "error", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	success(c, code)
}

// handleLastCodeFromSender dispenses the most recent unused code from an
// exact sender address
func (s *Server) handleLastCodeFromSender(c *gin.Context) {
	sender := c.Query("sender")
	if sender == "" {
		fail(c, http.StatusBadRequest, "sender is required")
		return
	}

	code, err := s.db.ConsumeLastCodeFromSender(c.Request.Context(), s.account, sender)
	if errors.Is(err, database.ErrNotFound) {
		success(c, nil)
		return
	}
	if err != nil {
		s.logger.Error("failed to consume code by sender", "error", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	success(c, code)
}

// handleLastCodeToRecipient dispenses the most recent unused code addressed
// to a recipient, across accounts (used for forwarded mail)
func (s *Server) handleLastCodeToRecipient(c *gin.Context) {
	recipient := c.Query("recipient")
	if recipient == "" {
		fail(c, http.StatusBadRequest, "recipient is required")
		return
	}

	code, err := s.db.ConsumeLastCodeToRecipient(c.Request.Context(), recipient)
	if errors.Is(err, database.ErrNotFound) {
		success(c, nil)
		return
	}
	if err != nil {
		s.logger.Error("failed to consume code by recipient", "error", err)
		fail(c, http.StatusInternalServerError, "internal error")
		return
	}
	success(c, code)
}

// handleStatus reports the watcher's connection session
func (s *Server) handleStatus(c *gin.Context) {
	success(c, s.watcher.Status())
}
