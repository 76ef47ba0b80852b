package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nyayasetu/legalchat/internal/ai"
	"github.com/nyayasetu/legalchat/internal/models"
	"github.com/nyayasetu/legalchat/internal/session"
)

type fakeProvider struct {
	mu      sync.Mutex
	prompts []string

	reply string
	err   error

	titleReply string
	titleErr   error
}

func (p *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	p.mu.Lock()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	if strings.HasPrefix(prompt, "Give a short title") {
		if p.titleErr != nil {
			return "", p.titleErr
		}
		return p.titleReply, nil
	}
	if p.err != nil {
		return "", p.err
	}
	return p.reply, nil
}

func (p *fakeProvider) lastTurnPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.prompts) - 1; i >= 0; i-- {
		if !strings.HasPrefix(p.prompts[i], "Give a short title") {
			return p.prompts[i]
		}
	}
	return ""
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &Session{}, &Message{}, &Job{}))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB) uint64 {
	t.Helper()
	u := &models.User{
		Email:        fmt.Sprintf("%s@example.com", strings.ReplaceAll(t.Name(), "/", "_")),
		Username:     strings.ReplaceAll(t.Name(), "/", "_"),
		PasswordHash: "x",
	}
	require.NoError(t, db.Create(u).Error)
	return u.ID
}

func newTestService(db *gorm.DB, p ai.Provider) *Service {
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return p, nil
	})
	ids := session.NewIdentifier("test-secret", time.Hour, false)
	return NewService(NewRepo(db), reg, ids, NewKeyedMutex(), Options{
		Provider: "fake",
		Model:    "default",
	})
}

func countMessages(t *testing.T, db *gorm.DB, sessionID string) int64 {
	t.Helper()
	var cnt int64
	require.NoError(t, db.Model(&Message{}).Where("session_id = ?", sessionID).Count(&cnt).Error)
	return cnt
}

func TestNewService_DefaultWindowCounts(t *testing.T) {
	// a zero-value Options must not disable the anchor: the window stays
	// "first message + 8 most recent", not just "last 8"
	svc := NewService(nil, nil, nil, NewKeyedMutex(), Options{Provider: "fake", Model: "default"})
	require.Equal(t, 1, svc.opts.AnchorCount)
	require.Equal(t, 8, svc.opts.RecentCount)
}

func TestTurn_FirstTurnCreatesSessionAndPair(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{reply: "An FIR is a First Information Report.", titleReply: "FIR Basics"}
	svc := newTestService(db, prov)

	result, err := svc.Turn(context.Background(), uid, "What is an FIR?", "en", "")
	require.NoError(t, err)
	require.Equal(t, "An FIR is a First Information Report.", result.Reply)
	require.NotEmpty(t, result.SessionID)
	require.NotEmpty(t, result.Cookie, "first turn must issue a session cookie")

	var sess Session
	require.NoError(t, db.Where("session_id = ?", result.SessionID).First(&sess).Error)
	require.Equal(t, uid, sess.UserID)
	require.Equal(t, "FIR Basics", sess.Title)
	require.Equal(t, "en", sess.Language)

	var msgs []Message
	require.NoError(t, db.Where("session_id = ?", result.SessionID).Order("id ASC").Find(&msgs).Error)
	require.Len(t, msgs, 2)
	require.Equal(t, RoleUser, msgs[0].Role)
	require.Equal(t, "What is an FIR?", msgs[0].Content)
	require.Equal(t, RoleAssistant, msgs[1].Role)
	require.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))
}

func TestTurn_CookieReusesSession(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{reply: "ok", titleReply: "Title"}
	svc := newTestService(db, prov)

	first, err := svc.Turn(context.Background(), uid, "first question", "en", "")
	require.NoError(t, err)

	second, err := svc.Turn(context.Background(), uid, "second question", "en", first.Cookie)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Empty(t, second.Cookie, "cookie is not renewed within its validity window")

	// user/assistant pairs only: count stays even after every turn
	require.EqualValues(t, 4, countMessages(t, db, first.SessionID))
}

func TestTurn_UserNotFound(t *testing.T) {
	db := openTestDB(t)

	svc := newTestService(db, &fakeProvider{reply: "ok"})

	_, err := svc.Turn(context.Background(), 9999, "hello", "en", "")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestTurn_CompletionFailureCommitsNothing(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{err: errors.New("provider down")}
	svc := newTestService(db, prov)

	_, err := svc.Turn(context.Background(), uid, "hello", "en", "")
	require.ErrorIs(t, err, ErrCompletionFailed)

	var sessions, messages int64
	require.NoError(t, db.Model(&Session{}).Count(&sessions).Error)
	require.NoError(t, db.Model(&Message{}).Count(&messages).Error)
	require.Zero(t, sessions)
	require.Zero(t, messages)
}

func TestTurn_PersistenceFailureCommitsNothing(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{reply: "ok", titleReply: "Title"}
	svc := newTestService(db, prov)

	require.NoError(t, db.Migrator().DropTable(&Message{}))

	_, err := svc.Turn(context.Background(), uid, "hello", "en", "")
	require.ErrorIs(t, err, ErrPersistenceFailed)

	// the whole turn rolled back, including the new session row
	var sessions int64
	require.NoError(t, db.Model(&Session{}).Count(&sessions).Error)
	require.Zero(t, sessions)
}

func TestTurn_TitleFailureFallsBackToDefault(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{reply: "the reply", titleErr: errors.New("title model down")}
	svc := newTestService(db, prov)

	result, err := svc.Turn(context.Background(), uid, "What is an FIR?", "en", "")
	require.NoError(t, err, "a failed title must not abort the turn")
	require.Equal(t, "the reply", result.Reply)
	require.Equal(t, DefaultTitle, result.Title)

	var sess Session
	require.NoError(t, db.Where("session_id = ?", result.SessionID).First(&sess).Error)
	require.Equal(t, DefaultTitle, sess.Title)
}

func TestTurn_WindowedContextReachesProvider(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{reply: "ok"}
	svc := newTestService(db, prov)

	sess := &Session{
		SessionID: "01TESTSESSIONID0000000000",
		UserID:    uid,
		Title:     DefaultTitle,
		Language:  "en",
		Provider:  "fake",
		Model:     "default",
	}
	require.NoError(t, db.Create(sess).Error)
	for i := 0; i < 12; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, db.Create(&Message{
			SessionID: sess.SessionID,
			UserID:    uid,
			Role:      role,
			Content:   fmt.Sprintf("msg-%d", i+1),
		}).Error)
	}

	_, err := svc.turn(context.Background(), uid, sess.SessionID, "next question", "en")
	require.NoError(t, err)

	composed := prov.lastTurnPrompt()
	require.Equal(t, 9, historyLineCount(composed), "1 anchor + 8 most recent")
	require.Contains(t, composed, "User: msg-1\n")
	require.NotContains(t, composed, "msg-2\n")
	require.NotContains(t, composed, "msg-4\n")
	require.Contains(t, composed, "Assistant: msg-12\n")
}

func TestTurn_ExpiredCookieStartsNewSession(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{reply: "ok", titleReply: "Title"}

	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return prov, nil
	})
	ids := session.NewIdentifier("test-secret", time.Millisecond, false)
	svc := NewService(NewRepo(db), reg, ids, NewKeyedMutex(), Options{Provider: "fake", Model: "default"})

	first, err := svc.Turn(context.Background(), uid, "first", "en", "")
	require.NoError(t, err)

	// jwt expiry has one-second precision
	time.Sleep(1100 * time.Millisecond)

	second, err := svc.Turn(context.Background(), uid, "second", "en", first.Cookie)
	require.NoError(t, err)
	require.NotEqual(t, first.SessionID, second.SessionID,
		"an expired token silently starts a new conversation")

	// the old conversation is orphaned but still stored
	require.EqualValues(t, 2, countMessages(t, db, first.SessionID))
}

func TestHistory(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{reply: "ok", titleReply: "Title"}
	svc := newTestService(db, prov)

	first, err := svc.Turn(context.Background(), uid, "q1", "en", "")
	require.NoError(t, err)
	_, err = svc.Turn(context.Background(), uid, "q2", "en", first.Cookie)
	require.NoError(t, err)

	history, err := svc.History(context.Background(), uid)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, first.SessionID, history[0].SessionID)
	require.Len(t, history[0].Messages, 4)
	require.Equal(t, "q1", history[0].Messages[0].Content)

	_, err = svc.History(context.Background(), 9999)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestRunJob(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{reply: "async reply", titleReply: "Async Title"}
	svc := newTestService(db, prov)

	job := &Job{
		ID:        "01TESTJOBID00000000000000X",
		UserID:    uid,
		SessionID: "01TESTASYNCSESSION0000000",
		Prompt:    "queued question",
		Language:  "en",
		Status:    JobQueued,
	}
	require.NoError(t, svc.CreateJob(context.Background(), job))

	require.NoError(t, svc.RunJob(context.Background(), job.ID))

	stored, err := svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, JobSucceeded, stored.Status)
	require.Nil(t, stored.Error)

	require.EqualValues(t, 2, countMessages(t, db, job.SessionID))
}

func TestRunJob_FailureMarksJob(t *testing.T) {
	db := openTestDB(t)
	uid := createTestUser(t, db)

	prov := &fakeProvider{err: errors.New("provider down")}
	svc := newTestService(db, prov)

	job := &Job{
		ID:        "01TESTJOBID00000000000001X",
		UserID:    uid,
		SessionID: "01TESTASYNCSESSION0000001",
		Prompt:    "queued question",
		Language:  "en",
		Status:    JobQueued,
	}
	require.NoError(t, svc.CreateJob(context.Background(), job))
	require.Error(t, svc.RunJob(context.Background(), job.ID))

	stored, err := svc.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, JobFailed, stored.Status)
	require.NotNil(t, stored.Error)
	require.Zero(t, countMessages(t, db, job.SessionID))
}
