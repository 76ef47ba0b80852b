package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nyayasetu/legalchat/internal/chat"
	"github.com/nyayasetu/legalchat/internal/config"
	"github.com/nyayasetu/legalchat/internal/models"
	"github.com/nyayasetu/legalchat/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeOllama answers /api/generate like a local ollama instance would.
func fakeOllama(t *testing.T, fail bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := "This is the assistant reply."
		if strings.HasPrefix(req.Prompt, "Give a short title") {
			resp = "FIR Basics"
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"response":%q,"done":true}`, resp)
	}))
}

func newTestRouter(t *testing.T, ollamaURL string) (*gin.Engine, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &chat.Session{}, &chat.Message{}, &chat.Job{}))

	cfg := config.Config{
		JWTSecret:          "test-secret",
		SessionTTL:         time.Hour,
		HistoryAnchorCount: 1,
		HistoryRecentCount: 8,
		AIProvider:         "ollama",
		OllamaBaseURL:      ollamaURL,
		OllamaModel:        "test-model",
	}
	return NewRouter(db, cfg, chat.NewKeyedMutex(), nil), db
}

func createUser(t *testing.T, db *gorm.DB) uint64 {
	t.Helper()
	u := &models.User{
		Email:        strings.ReplaceAll(t.Name(), "/", "_") + "@example.com",
		Username:     strings.ReplaceAll(t.Name(), "/", "_"),
		PasswordHash: "x",
	}
	require.NoError(t, db.Create(u).Error)
	return u.ID
}

func doJSON(r *gin.Engine, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

func TestTurnEndpoint_FirstTurn(t *testing.T) {
	srv := fakeOllama(t, false)
	defer srv.Close()

	r, db := newTestRouter(t, srv.URL)
	uid := createUser(t, db)

	w := doJSON(r, http.MethodPost, fmt.Sprintf("/chat/%d", uid),
		`{"prompt":"What is an FIR?","language":"en"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Msg       string `json:"msg"`
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Msg)
	require.NotEmpty(t, resp.SessionID)

	ck := sessionCookie(t, w)
	require.NotNil(t, ck, "first turn sets the session cookie")
	require.True(t, ck.HttpOnly)

	var sess chat.Session
	require.NoError(t, db.Where("session_id = ?", resp.SessionID).First(&sess).Error)
	require.Equal(t, "FIR Basics", sess.Title)
}

func TestTurnEndpoint_SecondTurnSameSession(t *testing.T) {
	srv := fakeOllama(t, false)
	defer srv.Close()

	r, db := newTestRouter(t, srv.URL)
	uid := createUser(t, db)

	w1 := doJSON(r, http.MethodPost, fmt.Sprintf("/chat/%d", uid),
		`{"prompt":"first","language":"en"}`, nil)
	require.Equal(t, http.StatusOK, w1.Code)
	ck := sessionCookie(t, w1)
	require.NotNil(t, ck)

	w2 := doJSON(r, http.MethodPost, fmt.Sprintf("/chat/%d", uid),
		`{"prompt":"second","language":"en"}`, ck)
	require.Equal(t, http.StatusOK, w2.Code)
	require.Nil(t, sessionCookie(t, w2), "cookie is not reissued while valid")

	var first, second struct {
		SessionID string `json:"sessionId"`
	}
	require.NoError(t, json.Unmarshal(w1.Body.Bytes(), &first))
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &second))
	require.Equal(t, first.SessionID, second.SessionID)

	var cnt int64
	require.NoError(t, db.Model(&chat.Message{}).Where("session_id = ?", first.SessionID).Count(&cnt).Error)
	require.EqualValues(t, 4, cnt)
}

func TestTurnEndpoint_UnknownUser(t *testing.T) {
	srv := fakeOllama(t, false)
	defer srv.Close()

	r, _ := newTestRouter(t, srv.URL)

	w := doJSON(r, http.MethodPost, "/chat/424242",
		`{"prompt":"hello","language":"en"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "error")
}

func TestTurnEndpoint_CompletionFailure(t *testing.T) {
	srv := fakeOllama(t, true)
	defer srv.Close()

	r, db := newTestRouter(t, srv.URL)
	uid := createUser(t, db)

	w := doJSON(r, http.MethodPost, fmt.Sprintf("/chat/%d", uid),
		`{"prompt":"hello","language":"en"}`, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	// no partial state: history stays empty
	wh := doJSON(r, http.MethodGet, fmt.Sprintf("/history/%d", uid), "", nil)
	require.Equal(t, http.StatusOK, wh.Code)

	var resp struct {
		History []chat.SessionHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(wh.Body.Bytes(), &resp))
	require.Empty(t, resp.History)
}

func TestHistoryEndpoint(t *testing.T) {
	srv := fakeOllama(t, false)
	defer srv.Close()

	r, db := newTestRouter(t, srv.URL)
	uid := createUser(t, db)

	w := doJSON(r, http.MethodPost, fmt.Sprintf("/chat/%d", uid),
		`{"prompt":"What is an FIR?","language":"en"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	wh := doJSON(r, http.MethodGet, fmt.Sprintf("/history/%d", uid), "", nil)
	require.Equal(t, http.StatusOK, wh.Code)

	var resp struct {
		History []chat.SessionHistory `json:"history"`
	}
	require.NoError(t, json.Unmarshal(wh.Body.Bytes(), &resp))
	require.Len(t, resp.History, 1)
	require.Len(t, resp.History[0].Messages, 2)
	require.Equal(t, chat.RoleUser, resp.History[0].Messages[0].Role)
	require.Equal(t, chat.RoleAssistant, resp.History[0].Messages[1].Role)

	whu := doJSON(r, http.MethodGet, "/history/424242", "", nil)
	require.Equal(t, http.StatusBadRequest, whu.Code)
}

func TestTurnEndpoint_MissingPrompt(t *testing.T) {
	srv := fakeOllama(t, false)
	defer srv.Close()

	r, db := newTestRouter(t, srv.URL)
	uid := createUser(t, db)

	w := doJSON(r, http.MethodPost, fmt.Sprintf("/chat/%d", uid), `{"language":"en"}`, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAsyncEndpoint_DisabledWithoutBroker(t *testing.T) {
	srv := fakeOllama(t, false)
	defer srv.Close()

	r, db := newTestRouter(t, srv.URL)
	uid := createUser(t, db)

	w := doJSON(r, http.MethodPost, fmt.Sprintf("/chat/%d/async", uid),
		`{"prompt":"hello","language":"en"}`, nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
