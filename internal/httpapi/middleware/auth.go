package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/auth"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
)

const UserIDKey = "user_id"

const (
	msgMissingToken = "توکن احراز هویت ارسال نشده است."
	msgInvalidToken = "توکن نامعتبر یا منقضی است."
	msgBadSubject   = "توکن به کاربر معتبری تعلق ندارد."
)

// AuthRequired resolves the bearer token to a user id under UserIDKey.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := strings.TrimSpace(c.GetHeader("Authorization"))
		scheme, token, found := strings.Cut(h, " ")
		if h == "" || !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, msgMissingToken)
			return
		}

		uid, err := auth.ParseJWT(strings.TrimSpace(token), secret)
		if errors.Is(err, auth.ErrInvalidSubject) {
			common.Fail(c, http.StatusForbidden, msgBadSubject)
			return
		}
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, msgInvalidToken)
			return
		}

		c.Set(UserIDKey, uid)
		c.Next()
	}
}
