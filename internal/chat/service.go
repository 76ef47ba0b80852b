package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/nyayasetu/legalchat/internal/ai"
	"github.com/nyayasetu/legalchat/internal/lang"
	"github.com/nyayasetu/legalchat/internal/session"
)

type Options struct {
	AnchorCount int
	RecentCount int
	Provider    string
	Model       string

	// AbandonOnDisconnect drops a turn when the client goes away during
	// the completion call. The default persists an already-billed
	// completion even after a disconnect.
	AbandonOnDisconnect bool
}

type Service struct {
	repo     *Repo
	registry *ai.Registry
	ids      *session.Identifier
	locker   Locker
	opts     Options
}

const (
	defaultProvider = "ollama"
	defaultModel    = "llama3:latest"
)

func NewService(repo *Repo, registry *ai.Registry, ids *session.Identifier, locker Locker, opts Options) *Service {
	if opts.AnchorCount <= 0 {
		opts.AnchorCount = 1
	}
	if opts.RecentCount <= 0 {
		opts.RecentCount = 8
	}
	if opts.Provider == "" {
		opts.Provider = defaultProvider
	}
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Service{repo: repo, registry: registry, ids: ids, locker: locker, opts: opts}
}

// TurnResult is what a completed turn hands back to the HTTP layer.
type TurnResult struct {
	Reply     string
	SessionID string
	Title     string

	// Cookie/CookieTTL are set when the session identifier minted or
	// renewed a token on this turn.
	Cookie    string
	CookieTTL time.Duration
}

// Turn runs one full conversation turn: resolve the session from the signed
// cookie, window the history, compose the prompt, call the completion
// service, and commit the user/assistant pair in one write. Every failure
// aborts the turn without partial commit.
func (s *Service) Turn(ctx context.Context, userID uint64, prompt, language, cookieToken string) (*TurnResult, error) {
	res, err := s.resolveIdentity(ctx, userID, cookieToken)
	if err != nil {
		return nil, err
	}

	result, err := s.turn(ctx, userID, res.ConversationID, prompt, language)
	if err != nil {
		return nil, err
	}
	result.Cookie = res.Cookie
	result.CookieTTL = res.CookieTTL
	return result, nil
}

func (s *Service) resolveIdentity(ctx context.Context, userID uint64, cookieToken string) (session.Resolution, error) {
	exists, err := s.repo.UserExists(ctx, userID)
	if err != nil {
		return session.Resolution{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if !exists {
		return session.Resolution{}, ErrUserNotFound
	}
	res, err := s.ids.Resolve(userID, cookieToken)
	if err != nil {
		return session.Resolution{}, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	return res, nil
}

// turn is the shared core behind the sync, streaming and job paths. The
// caller has already established that the user exists.
func (s *Service) turn(ctx context.Context, userID uint64, sessionID, prompt, language string) (*TurnResult, error) {
	release, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	defer release()

	sess, create, err := s.resolveSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	var history []Message
	if !create {
		history, err = s.repo.ListMessagesAsc(ctx, userID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
	}

	l, fellBack := lang.Resolve(language, prompt)
	if fellBack {
		log.Printf("[chat] unrecognized language %q, answering in %s", language, l.Name())
	}

	composed := ComposePrompt(l, Window(history, s.opts.AnchorCount, s.opts.RecentCount), prompt)

	provider, err := s.registry.Get(ctx, sess.Provider, sess.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	// Once the completion call is in flight the remaining work runs to
	// completion even if the client disconnects, unless configured
	// otherwise: the reply is paid for either way.
	cctx := ctx
	if !s.opts.AbandonOnDisconnect {
		cctx = context.WithoutCancel(ctx)
	}

	reply, err := provider.Complete(cctx, composed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	return s.commitTurn(cctx, provider, sess, create, l, prompt, reply)
}

// commitTurn runs the first-turn title generation and the atomic append.
func (s *Service) commitTurn(ctx context.Context, provider ai.Provider, sess *Session, create bool, l lang.Language, prompt, reply string) (*TurnResult, error) {
	if create {
		sess.Language = l.String()
		if title, err := GenerateTitle(ctx, provider, prompt); err != nil {
			log.Printf("[chat] title generation failed session=%s err=%v", sess.SessionID, err)
		} else {
			sess.Title = title
		}
	}

	if err := s.repo.AppendTurn(ctx, sess, create, prompt, reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	return &TurnResult{Reply: reply, SessionID: sess.SessionID, Title: sess.Title}, nil
}

func (s *Service) resolveSession(ctx context.Context, userID uint64, sessionID string) (*Session, bool, error) {
	sess, err := s.repo.GetSession(ctx, userID, sessionID)
	if err == nil {
		return sess, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	// Created lazily: the row is only written when the turn commits.
	return &Session{
		SessionID: sessionID,
		UserID:    userID,
		Title:     DefaultTitle,
		Provider:  s.opts.Provider,
		Model:     s.opts.Model,
	}, true, nil
}

// History returns every session of a user with its messages, oldest first.
func (s *Service) History(ctx context.Context, userID uint64) ([]SessionHistory, error) {
	exists, err := s.repo.UserExists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	sessions, err := s.repo.ListSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}

	out := make([]SessionHistory, 0, len(sessions))
	for _, sess := range sessions {
		msgs, err := s.repo.ListMessagesAsc(ctx, userID, sess.SessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
		}
		out = append(out, SessionHistory{Session: sess, Messages: msgs})
	}
	return out, nil
}

// TurnStream is the streaming variant of Turn. Identity is resolved
// synchronously so the caller can set the session cookie before the first
// chunk; the turn itself runs in a goroutine. The final TurnResult arrives
// after the full reply has been persisted.
func (s *Service) TurnStream(ctx context.Context, userID uint64, prompt, language, cookieToken string) (session.Resolution, <-chan string, <-chan *TurnResult, <-chan error, error) {
	res, err := s.resolveIdentity(ctx, userID, cookieToken)
	if err != nil {
		return session.Resolution{}, nil, nil, nil, err
	}

	chunks := make(chan string, 16)
	finals := make(chan *TurnResult, 1)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(finals)
		defer close(errs)

		release, err := s.locker.Acquire(ctx, res.ConversationID)
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
			return
		}
		defer release()

		sess, create, err := s.resolveSession(ctx, userID, res.ConversationID)
		if err != nil {
			errs <- err
			return
		}

		var history []Message
		if !create {
			history, err = s.repo.ListMessagesAsc(ctx, userID, res.ConversationID)
			if err != nil {
				errs <- fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
				return
			}
		}

		l, fellBack := lang.Resolve(language, prompt)
		if fellBack {
			log.Printf("[chat] unrecognized language %q, answering in %s", language, l.Name())
		}
		composed := ComposePrompt(l, Window(history, s.opts.AnchorCount, s.opts.RecentCount), prompt)

		provider, err := s.registry.Get(ctx, sess.Provider, sess.Model)
		if err != nil {
			errs <- fmt.Errorf("%w: %v", ErrCompletionFailed, err)
			return
		}
		sp, ok := provider.(ai.StreamProvider)
		if !ok {
			errs <- fmt.Errorf("%w: provider does not support streaming", ErrCompletionFailed)
			return
		}

		cctx := ctx
		if !s.opts.AbandonOnDisconnect {
			cctx = context.WithoutCancel(ctx)
		}

		pChunks, pErrs := sp.StreamComplete(cctx, composed)

		var b strings.Builder
		for c := range pChunks {
			b.WriteString(c)
			chunks <- c
		}
		select {
		case err := <-pErrs:
			if err != nil {
				errs <- fmt.Errorf("%w: %v", ErrCompletionFailed, err)
				return
			}
		default:
		}

		result, err := s.commitTurn(cctx, provider, sess, create, l, prompt, b.String())
		if err != nil {
			errs <- err
			return
		}
		finals <- result
	}()

	return res, chunks, finals, errs, nil
}

// Job pipeline

func (s *Service) CreateJob(ctx context.Context, job *Job) error {
	return s.repo.CreateJob(ctx, job)
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.GetJobByID(ctx, jobID)
}

func (s *Service) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	return s.repo.CreateJobOrGetExisting(ctx, job)
}

// ResolveIdentity exposes identity resolution to the async submit handler,
// which needs the conversation id before the worker ever runs.
func (s *Service) ResolveIdentity(ctx context.Context, userID uint64, cookieToken string) (session.Resolution, error) {
	return s.resolveIdentity(ctx, userID, cookieToken)
}

// RunJob executes one queued turn. Failures are recorded on the job row;
// the turn itself has the same no-partial-commit guarantee as Turn.
func (s *Service) RunJob(ctx context.Context, jobID string) error {
	_ = s.repo.UpdateJobStatusRunning(ctx, jobID)

	j, err := s.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}

	if _, err := s.turn(ctx, j.UserID, j.SessionID, j.Prompt, j.Language); err != nil {
		_ = s.repo.MarkJobFailed(ctx, jobID, err.Error())
		return err
	}
	return s.repo.MarkJobSucceeded(ctx, jobID)
}
