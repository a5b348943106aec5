package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/auth"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/chat"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/common"
	"github.com/mani-agah-esmaeilzad/dadnoosSystem-sub000/internal/httpapi/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type rejection struct {
	userID uint64
	chatID string
	err    error
}

type fakeChat struct {
	gotUser  uint64
	gotReq   chat.ChatRequest
	reply    string
	err      error
	panics   bool
	rejected []rejection
}

func (f *fakeChat) Handle(ctx context.Context, userID uint64, req chat.ChatRequest) (string, error) {
	if f.panics {
		panic("boom")
	}
	f.gotUser = userID
	f.gotReq = req
	return f.reply, f.err
}

func (f *fakeChat) Reject(ctx context.Context, userID uint64, chatID string, err error) {
	f.rejected = append(f.rejected, rejection{userID: userID, chatID: chatID, err: err})
}

func newTestRouter(svc handlers.ChatService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := handlers.NewHandler(svc, zap.NewNop(), 1<<20)
	return NewRouter(h, zap.NewNop(), Options{JWTSecret: testSecret})
}

func doChat(t *testing.T, r http.Handler, token, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w, out
}

func validToken(t *testing.T, uid uint64) string {
	t.Helper()
	tok, err := auth.SignJWT(uid, testSecret, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestChat_Success(t *testing.T) {
	svc := &fakeChat{reply: "سلام، چطور کمک کنم؟"}
	r := newTestRouter(svc)

	w, out := doChat(t, r, validToken(t, 42), `{"chat_id":"c1","message":"سلام","prompt":"petition"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "سلام، چطور کمک کنم؟", out["response"])
	assert.Equal(t, uint64(42), svc.gotUser)
	assert.Equal(t, "c1", svc.gotReq.ChatID)
	assert.Equal(t, "petition", svc.gotReq.Prompt)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestChat_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{common.Validation("خالی"), http.StatusBadRequest},
		{common.RateLimited("زیاد"), http.StatusTooManyRequests},
		{common.QuotaExceeded("تمام"), http.StatusPaymentRequired},
		{common.Upstream(assert.AnError), http.StatusBadGateway},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		r := newTestRouter(&fakeChat{err: tc.err})
		w, out := doChat(t, r, validToken(t, 1), `{"chat_id":"c1","message":"x"}`)
		assert.Equal(t, tc.status, w.Code, tc.err.Error())
		assert.Equal(t, common.Detail(tc.err), out["detail"])
		assert.NotContains(t, out["detail"], assert.AnError.Error())
	}
}

func TestChat_Auth(t *testing.T) {
	svc := &fakeChat{reply: "ok"}
	r := newTestRouter(svc)

	w, out := doChat(t, r, "", `{"chat_id":"c1","message":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, out["detail"])

	w, _ = doChat(t, r, "not-a-jwt", `{"chat_id":"c1","message":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	expired, err := auth.SignJWT(1, testSecret, -time.Minute)
	require.NoError(t, err)
	w, _ = doChat(t, r, expired, `{"chat_id":"c1","message":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	claims := jwt.RegisteredClaims{Subject: "admin", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	w, _ = doChat(t, r, tok, `{"chat_id":"c1","message":"x"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Zero(t, svc.gotUser, "service must not run for rejected requests")
}

func TestChat_MalformedJSON(t *testing.T) {
	svc := &fakeChat{reply: "ok"}
	r := newTestRouter(svc)

	w, out := doChat(t, r, validToken(t, 1), `{"chat_id": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, out["detail"])
	assert.Zero(t, svc.gotUser)

	require.Len(t, svc.rejected, 1)
	assert.Equal(t, uint64(1), svc.rejected[0].userID)
	assert.Equal(t, http.StatusBadRequest, common.HTTPStatus(svc.rejected[0].err))
	assert.Equal(t, out["detail"], common.Detail(svc.rejected[0].err))
}

func TestChat_MissingChatIDIsRejectedByBinding(t *testing.T) {
	svc := &fakeChat{reply: "ok"}
	r := newTestRouter(svc)

	w, out := doChat(t, r, validToken(t, 3), `{"message":"سلام"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, common.Detail(chat.ErrMissingChatID), out["detail"])
	assert.Zero(t, svc.gotUser)
	require.Len(t, svc.rejected, 1)
	assert.ErrorIs(t, svc.rejected[0].err, chat.ErrMissingChatID)
}

func TestRouter_PanicAndNotFound(t *testing.T) {
	r := newTestRouter(&fakeChat{panics: true})
	w, out := doChat(t, r, validToken(t, 1), `{"chat_id":"c1","message":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal error", out["detail"])

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
