package handlers

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/nyayasetu/legalchat/internal/ai"
	"github.com/nyayasetu/legalchat/internal/chat"
	"github.com/nyayasetu/legalchat/internal/config"
	"github.com/nyayasetu/legalchat/internal/session"
	"github.com/nyayasetu/legalchat/internal/store/rabbitmq"
)

type Handler struct {
	DB      *gorm.DB
	Cfg     config.Config
	ChatSvc *chat.Service
	Rabbit  *rabbitmq.Publisher
}

// NewRegistry wires the providers the deployment supports. The session row
// remembers which provider/model produced it, so the registry routes per
// session rather than globally.
func NewRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OpenRouterModel
		}
		return ai.NewOpenRouterProvider(
			cfg.OpenRouterBaseURL, cfg.OpenRouterAPIKey, m,
			cfg.OpenRouterSiteURL, cfg.OpenRouterAppName,
		), nil
	})
	return reg
}

func NewChatService(db *gorm.DB, cfg config.Config, locker chat.Locker) *chat.Service {
	repo := chat.NewRepo(db)
	reg := NewRegistry(cfg)
	ids := session.NewIdentifier(cfg.JWTSecret, cfg.SessionTTL, cfg.SessionCookieRenew)

	model := cfg.OllamaModel
	if strings.ToLower(cfg.AIProvider) == "openrouter" {
		model = cfg.OpenRouterModel
	}

	return chat.NewService(repo, reg, ids, locker, chat.Options{
		AnchorCount: cfg.HistoryAnchorCount,
		RecentCount: cfg.HistoryRecentCount,
		Provider:    cfg.AIProvider,
		Model:       model,
	})
}

func NewHandler(db *gorm.DB, cfg config.Config, locker chat.Locker, rabbit *rabbitmq.Publisher) *Handler {
	return &Handler{
		DB:      db,
		Cfg:     cfg,
		ChatSvc: NewChatService(db, cfg, locker),
		Rabbit:  rabbit,
	}
}
