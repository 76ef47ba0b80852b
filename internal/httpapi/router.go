package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nyayasetu/legalchat/internal/chat"
	"github.com/nyayasetu/legalchat/internal/config"
	"github.com/nyayasetu/legalchat/internal/httpapi/handlers"
	"github.com/nyayasetu/legalchat/internal/httpapi/middleware"
	"github.com/nyayasetu/legalchat/internal/store/rabbitmq"
)

func NewRouter(db *gorm.DB, cfg config.Config, locker chat.Locker, rabbit *rabbitmq.Publisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	// the React front end runs on its own origin; cookies must survive CORS
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed"})
	})

	h := handlers.NewHandler(db, cfg, locker, rabbit)

	r.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"msg": "pong"}) })

	// users
	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)

	// conversation turns + history
	r.POST("/chat/:user_id", h.Turn)
	r.POST("/chat/:user_id/stream", h.TurnStream)
	r.POST("/chat/:user_id/async", h.TurnAsync)
	r.GET("/chat/:user_id/jobs/:job_id", h.GetTurnJob)
	r.GET("/history/:user_id", h.History)

	return r
}
