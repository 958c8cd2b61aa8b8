package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"potluck/chat-service/internal/models"
)

type createChatRequest struct {
	UserID1 string `json:"user_id1" binding:"required"`
	UserID2 string `json:"user_id2" binding:"required"`
}

type sendMessageRequest struct {
	SenderID string `json:"sender_id" binding:"required"`
	Content  string `json:"content"`
}

type markReadRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

func (s *Server) createChat(c *gin.Context) {
	var input createChatRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	chat, err := s.service.CreateChat(c.Request.Context(), input.UserID1, input.UserID2)
	if err != nil {
		s.fail(c, err, "Failed to create chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *Server) getChat(c *gin.Context) {
	chat, err := s.service.GetChat(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		s.fail(c, err, "Failed to get chat")
		return
	}
	c.JSON(http.StatusOK, chat)
}

func (s *Server) getUserChats(c *gin.Context) {
	chats, err := s.service.GetUserChats(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		s.fail(c, err, "Failed to get user chats")
		return
	}
	if chats == nil {
		chats = []*models.Chat{}
	}
	c.JSON(http.StatusOK, gin.H{"chats": chats})
}

func (s *Server) getChatMessages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "limit must be an integer")
			return
		}
		limit = n
	}

	var before int64
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			badRequest(c, "before must be a message seq")
			return
		}
		before = n
	}

	messages, err := s.service.GetChatMessages(c.Request.Context(), c.Param("chat_id"), limit, before)
	if err != nil {
		s.fail(c, err, "Failed to get chat messages")
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) sendMessage(c *gin.Context) {
	var input sendMessageRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	msg, chat, err := s.deliverer.Deliver(c.Request.Context(), c.Param("chat_id"), input.SenderID, input.Content)
	if err != nil {
		s.fail(c, err, "Failed to send message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"chatId":  chat.ID,
		"message": msg,
		"chat":    chat,
	})
}

func (s *Server) markRead(c *gin.Context) {
	var input markReadRequest
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	count, err := s.service.MarkMessagesAsRead(c.Request.Context(), c.Param("chat_id"), input.UserID)
	if err != nil {
		s.fail(c, err, "Failed to mark messages as read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked_count": count})
}

func (s *Server) fail(c *gin.Context, err error, msg string) {
	status, code := statusOf(err)
	entry := s.logger.WithError(err).WithFields(logrus.Fields{
		"path":   c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error(msg)
	} else {
		entry.Warn(msg)
	}
	c.JSON(status, gin.H{"code": code, "error": err.Error()})
}

func statusOf(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrChatNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrParticipantUnresolvable):
		return http.StatusNotFound, "participant_unresolvable"
	case errors.Is(err, models.ErrNotParticipant):
		return http.StatusForbidden, "not_a_participant"
	case errors.Is(err, models.ErrInvalidContent):
		return http.StatusBadRequest, "invalid_content"
	case errors.Is(err, models.ErrSelfChat):
		return http.StatusBadRequest, "self_chat"
	case errors.Is(err, models.ErrTransientStorage):
		return http.StatusServiceUnavailable, "storage_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": msg})
}
