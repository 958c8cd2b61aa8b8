package rest

import (
	"context"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"potluck/chat-service/internal/models"
	"potluck/chat-service/internal/service"
)

// Deliverer persists and broadcasts a message. realtime.Gateway satisfies it.
type Deliverer interface {
	Deliver(ctx context.Context, chatID, senderID, content string) (*models.Message, *models.Chat, error)
}

type Options struct {
	CORSOrigins []string
	// RateLimit is requests per second across the router; zero disables it.
	RateLimit int
	// Push is mounted at GET /ws when set.
	Push http.Handler
}

type Server struct {
	router    *gin.Engine
	service   service.ChatService
	deliverer Deliverer
	logger    *logrus.Logger
}

func NewServer(svc service.ChatService, deliverer Deliverer, logger *logrus.Logger, opts Options) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(Logger(logger))

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
	}))

	if opts.RateLimit > 0 {
		router.Use(RateLimitMiddleware(opts.RateLimit))
	}

	s := &Server{
		router:    router,
		service:   svc,
		deliverer: deliverer,
		logger:    logger,
	}
	s.setupRoutes(opts.Push)
	return s
}

func (s *Server) setupRoutes(push http.Handler) {
	s.router.GET("/healthz", s.healthCheck)
	if push != nil {
		s.router.GET("/ws", gin.WrapH(push))
	}

	api := s.router.Group("/api")
	{
		api.POST("/chats", s.createChat)
		api.GET("/chats/:chat_id", s.getChat)
		api.GET("/chats/:chat_id/messages", s.getChatMessages)
		api.POST("/chats/:chat_id/messages", s.sendMessage)
		api.POST("/chats/:chat_id/read", s.markRead)
		api.GET("/users/:user_id/chats", s.getUserChats)
	}
}

// Handler exposes the router for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "OK"})
}
