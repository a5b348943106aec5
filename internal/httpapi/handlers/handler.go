package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/chat"
	"go.uber.org/zap"
)

// ChatService runs one chat turn and records turns refused at the edge.
type ChatService interface {
	Handle(ctx context.Context, userID uint64, req chat.ChatRequest) (string, error)
	Reject(ctx context.Context, userID uint64, chatID string, err error)
}

type Handler struct {
	ChatSvc      ChatService
	Log          *zap.Logger
	MaxBodyBytes int64
}

func NewHandler(svc ChatService, log *zap.Logger, maxBodyBytes int64) *Handler {
	return &Handler{ChatSvc: svc, Log: log, MaxBodyBytes: maxBodyBytes}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
