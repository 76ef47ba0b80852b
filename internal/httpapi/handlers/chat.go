package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nyayasetu/legalchat/internal/chat"
	"github.com/nyayasetu/legalchat/internal/common"
	"github.com/nyayasetu/legalchat/internal/session"
)

type turnReq struct {
	Prompt   string `json:"prompt" binding:"required"`
	Language string `json:"language"`
}

func parseUserID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func (h *Handler) setSessionCookie(c *gin.Context, token string, ttl time.Duration) {
	if token == "" {
		return
	}
	// signed, origin-scoped, not visible to script
	c.SetCookie(session.CookieName, token, int(ttl.Seconds()), "/", "", false, true)
}

func turnError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrUserNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": "user not found"})
	case errors.Is(err, chat.ErrCompletionFailed):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "completion service unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process message"})
	}
}

// Turn handles POST /chat/:user_id. One request is one full turn; on
// success the assistant reply and the (possibly newly minted) session id
// come back together, with the session cookie set when one was issued.
func (h *Handler) Turn(c *gin.Context) {
	uid, ok := parseUserID(c)
	if !ok {
		return
	}

	var req turnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	cookieToken, _ := c.Cookie(session.CookieName)

	result, err := h.ChatSvc.Turn(c.Request.Context(), uid, req.Prompt, req.Language, cookieToken)
	if err != nil {
		if !errors.Is(err, chat.ErrUserNotFound) {
			log.Printf("[Turn] uid=%d err=%v", uid, err)
		}
		turnError(c, err)
		return
	}

	h.setSessionCookie(c, result.Cookie, result.CookieTTL)
	c.JSON(http.StatusOK, gin.H{
		"msg":       result.Reply,
		"sessionId": result.SessionID,
	})
}

// History handles GET /history/:user_id.
func (h *Handler) History(c *gin.Context) {
	uid, ok := parseUserID(c)
	if !ok {
		return
	}

	history, err := h.ChatSvc.History(c.Request.Context(), uid)
	if err != nil {
		if errors.Is(err, chat.ErrUserNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user not found"})
			return
		}
		log.Printf("[History] uid=%d err=%v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": history})
}

// TurnStream handles POST /chat/:user_id/stream as SSE.
func (h *Handler) TurnStream(c *gin.Context) {
	uid, ok := parseUserID(c)
	if !ok {
		return
	}

	var req turnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	cookieToken, _ := c.Cookie(session.CookieName)

	ctx := c.Request.Context()
	res, chunks, finals, errs, err := h.ChatSvc.TurnStream(ctx, uid, req.Prompt, req.Language, cookieToken)
	if err != nil {
		turnError(c, err)
		return
	}

	// cookie must go out with the headers, before the first chunk
	h.setSessionCookie(c, res.Cookie, res.CookieTTL)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, okk := c.Writer.(http.Flusher)
	if !okk {
		fmt.Fprintf(c.Writer, "event: error\ndata: flusher not supported\n\n")
		return
	}

	writeJSON := func(event string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"error\":\"json marshal failed\"}\n\n")
			flusher.Flush()
			return
		}
		if event != "" {
			fmt.Fprintf(c.Writer, "event: %s\n", event)
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", string(b))
		flusher.Flush()
	}

	// heartbeat ticker (keeps connections alive)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ch, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			writeJSON("chunk", gin.H{"type": "chunk", "delta": ch})

		case <-ticker.C:
			writeJSON("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case err := <-errs:
			if err == nil {
				continue
			}
			writeJSON("error", gin.H{"type": "error", "error": "failed to process message"})
			log.Printf("[TurnStream] uid=%d err=%v", uid, err)
			return

		case result, ok := <-finals:
			if !ok || result == nil {
				continue
			}
			writeJSON("done", gin.H{"type": "done", "sessionId": result.SessionID})
			return

		case <-ctx.Done():
			return
		}
	}
}

// TurnAsync handles POST /chat/:user_id/async: the turn is queued and the
// worker runs it. Identity is still resolved here so the session cookie can
// be issued on the submitting response.
func (h *Handler) TurnAsync(c *gin.Context) {
	uid, ok := parseUserID(c)
	if !ok {
		return
	}
	if h.Rabbit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "async turns are not enabled"})
		return
	}

	var req turnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}

	idempoKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if len(idempoKey) > 128 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "idempotency key too long"})
		return
	}
	var idempoKeyPtr *string
	if idempoKey != "" {
		idempoKeyPtr = &idempoKey
	}

	cookieToken, _ := c.Cookie(session.CookieName)
	res, err := h.ChatSvc.ResolveIdentity(c.Request.Context(), uid, cookieToken)
	if err != nil {
		turnError(c, err)
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		log.Printf("[TurnAsync] NewULID uid=%d err=%v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	j := &chat.Job{
		ID:             jobID,
		UserID:         uid,
		SessionID:      res.ConversationID,
		Prompt:         req.Prompt,
		Language:       req.Language,
		IdempotencyKey: idempoKeyPtr,
		Status:         chat.JobQueued,
	}

	job, created, err := h.ChatSvc.CreateJobOrGetExisting(c.Request.Context(), j)
	if err != nil {
		log.Printf("[TurnAsync] CreateJobOrGetExisting uid=%d err=%v", uid, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	// Enqueue only when a new job was created
	if created {
		if err := h.Rabbit.PublishJob(c.Request.Context(), job.ID); err != nil {
			log.Printf("[TurnAsync] PublishJob uid=%d job=%s err=%v", uid, job.ID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
			return
		}
	}

	h.setSessionCookie(c, res.Cookie, res.CookieTTL)
	c.JSON(http.StatusAccepted, gin.H{
		"jobId":     job.ID,
		"sessionId": job.SessionID,
	})
}

// GetTurnJob handles GET /chat/:user_id/jobs/:job_id.
func (h *Handler) GetTurnJob(c *gin.Context) {
	uid, ok := parseUserID(c)
	if !ok {
		return
	}
	jobID := c.Param("job_id")

	j, err := h.ChatSvc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		log.Printf("[GetTurnJob] uid=%d job=%s err=%v", uid, jobID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if j.UserID != uid {
		// hide existence
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job": gin.H{
			"id":         j.ID,
			"sessionId":  j.SessionID,
			"status":     j.Status,
			"error":      j.Error,
			"created_at": j.CreatedAt,
			"updated_at": j.UpdatedAt,
		},
	})
}
