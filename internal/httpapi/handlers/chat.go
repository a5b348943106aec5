package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/chat"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/httpapi/middleware"
	"go.uber.org/zap"
)

const msgMalformedBody = "بدنه درخواست نامعتبر است."

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}

// Chat handles POST /api/v1/chat.
func (h *Handler) Chat(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBodyBytes)
	}
	var req chat.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		rejected := common.Validation(msgMalformedBody)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			rejected = chat.ErrMissingChatID
		}
		h.ChatSvc.Reject(c.Request.Context(), uid, req.ChatID, rejected)
		common.FailErr(c, rejected)
		return
	}

	reply, err := h.ChatSvc.Handle(c.Request.Context(), uid, req)
	if err != nil {
		if common.KindOf(err) == common.KindInternal {
			h.Log.Error("chat request failed",
				zap.Uint64("user_id", uid),
				zap.String("chat_id", req.ChatID),
				zap.String("request_id", c.GetString(middleware.RequestIDKey)),
				zap.Error(err),
			)
		}
		common.FailErr(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"response": reply})
}
