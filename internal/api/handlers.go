package api

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"legalease/internal/auth"
	"legalease/internal/chat"
	"legalease/internal/logging"
	"legalease/internal/models"
	"legalease/internal/signup"
	"legalease/internal/upload"
	"legalease/internal/voice"
	"legalease/internal/worker"
)

const (
	maxAudioBytes = 10 << 20 // 10 MB
	busyMessage   = "server is busy, please retry"
)

// ChatSessions hands out the live chat session of a visitor.
type ChatSessions interface {
	Get(ctx context.Context, id string) (*chat.Session, error)
	Reset(ctx context.Context, id string) error
}

// Documents stages and forwards uploaded PDFs.
type Documents interface {
	Accept(ctx context.Context, sessionID string, files []*multipart.FileHeader) ([]*models.Document, error)
	List(ctx context.Context, sessionID string) ([]*models.Document, error)
	Purge(ctx context.Context, sessionID string) error
}

// Scheduler runs chat exchanges off the request goroutine.
type Scheduler interface {
	Submit(job worker.Job) error
	CancelKey(key string)
}

// LiveStream serves the websocket feed of session snapshots.
type LiveStream interface {
	HandleWebSocket(c *gin.Context)
}

// Handler wires HTTP routes to the portal components of each visitor.
type Handler struct {
	auth      *auth.Service
	accounts  signup.Submitter
	chats     ChatSessions
	documents Documents
	voice     *voice.Input
	jobs      Scheduler
	live      LiveStream
}

// NewHandler constructs a Handler instance. live may be nil.
func NewHandler(authService *auth.Service, accounts signup.Submitter, chats ChatSessions, documents Documents, voiceInput *voice.Input, jobs Scheduler, live LiveStream) *Handler {
	return &Handler{
		auth:      authService,
		accounts:  accounts,
		chats:     chats,
		documents: documents,
		voice:     voiceInput,
		jobs:      jobs,
		live:      live,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	site := router.Group("/")
	site.Use(h.auth.Visitor(), h.auth.CSRFMiddleware())
	for path := range Routes {
		site.GET(path, h.page)
	}
	site.POST("/signup", h.signupForm)
	site.POST("/register", h.signupForm)
	site.POST("/common-landing/send", h.sendForm)
	site.POST("/common-landing/upload", h.uploadForm)
	site.POST("/common-landing/voice", h.voiceForm)
	site.POST("/common-landing/dismiss", h.dismissForm)
	site.POST("/common-landing/reset", h.resetForm)

	api := site.Group("/api")
	api.POST("/signup", h.signupJSON)
	api.GET("/chat", h.getChat)
	api.DELETE("/chat", h.resetChat)
	api.PUT("/chat/input", h.setInput)
	api.POST("/chat/messages", h.postMessage)
	api.DELETE("/chat/error", h.dismissError)
	api.POST("/uploads", h.uploadFiles)
	api.GET("/uploads", h.listUploads)
	api.POST("/voice", h.transcribe)
	if h.live != nil {
		api.GET("/live", h.live.HandleWebSocket)
	}

	router.NoRoute(noRoute)
}

// session resolves the visitor's chat session, answering the request itself on failure.
func (h *Handler) session(c *gin.Context) (*chat.Session, bool) {
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return nil, false
	}
	s, err := h.chats.Get(c.Request.Context(), sessionID)
	if err != nil {
		logging.WithCtx(c.Request.Context()).Error("load chat session", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "load session failed"})
		return nil, false
	}
	return s, true
}

// startExchange performs the optimistic half of a send and queues the request.
// When the queue refuses the job the exchange is settled as failed.
func (h *Handler) startExchange(ctx context.Context, s *chat.Session, text string) (*chat.Exchange, error) {
	ex, err := s.Begin(ctx, text)
	if err != nil {
		return nil, err
	}
	sessionID := s.ID()
	job := worker.Job{
		Key:   sessionID,
		Name:  "chat",
		Abort: func(err error) { ex.Fail(context.WithoutCancel(ctx), err) },
		Run: func(jobCtx context.Context) {
			_ = ex.Run(logging.ContextWithSession(jobCtx, sessionID))
		},
	}
	if err := h.jobs.Submit(job); err != nil {
		ex.Fail(ctx, err)
		return ex, err
	}
	return ex, nil
}

func sendErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, chat.ErrInFlight), errors.Is(err, chat.ErrClosed):
		return http.StatusConflict, err.Error()
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests, busyMessage
	case errors.Is(err, worker.ErrDispatcherStopped):
		return http.StatusServiceUnavailable, "server is shutting down"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

var errInvalidForm = errors.New("invalid multipart form")

func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, errInvalidForm):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrNoFiles):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, worker.ErrDispatcherBusy):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func signupStatus(kind signup.Kind) int {
	switch kind {
	case signup.KindCreated:
		return http.StatusCreated
	case signup.KindInvalid:
		return http.StatusUnprocessableEntity
	case signup.KindRejected:
		return http.StatusBadRequest
	case signup.KindUnreachable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Signup interface
func (h *Handler) signupJSON(c *gin.Context) {
	form := signup.NewForm()
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	out := signup.Submit(c.Request.Context(), h.accounts, form)
	c.JSON(signupStatus(out.Kind), out)
}

// Chat interface
func (h *Handler) getChat(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

func (h *Handler) setInput(c *gin.Context) {
	var req struct {
		Input string `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.SetInput(req.Input))
}

type messageRequest struct {
	// Message defaults to the input buffer when omitted.
	Message *string `json:"message"`
}

func (h *Handler) postMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s, ok := h.session(c)
	if !ok {
		return
	}
	text := s.Snapshot().Input
	if req.Message != nil {
		text = *req.Message
	}

	ctx := c.Request.Context()
	ex, err := h.startExchange(ctx, s, text)
	if err != nil {
		status, msg := sendErrorStatus(err)
		c.JSON(status, gin.H{"error": msg, "chat": s.Snapshot()})
		return
	}
	if c.Query("wait") != "true" {
		c.JSON(http.StatusAccepted, s.Snapshot())
		return
	}
	select {
	case <-ex.Done():
		c.JSON(http.StatusOK, s.Snapshot())
	case <-ctx.Done():
		c.JSON(http.StatusAccepted, s.Snapshot())
	}
}

func (h *Handler) dismissError(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.DismissError())
}

func (h *Handler) resetChat(c *gin.Context) {
	if err := h.reset(c); err != nil {
		if errors.Is(err, chat.ErrInFlight) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// reset forgets the conversation and the staged documents of the visitor.
func (h *Handler) reset(c *gin.Context) error {
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok {
		return errors.New("session required")
	}
	ctx := c.Request.Context()
	if err := h.chats.Reset(ctx, sessionID); err != nil {
		if !errors.Is(err, chat.ErrInFlight) {
			logging.WithCtx(ctx).Error("reset conversation", zap.Error(err))
		}
		return err
	}
	// queued uploads of the conversation are dropped with it
	h.jobs.CancelKey(sessionID)
	if err := h.documents.Purge(ctx, sessionID); err != nil {
		logging.WithCtx(ctx).Error("purge documents", zap.Error(err))
		return err
	}
	return nil
}

// Upload interface
func (h *Handler) acceptUpload(c *gin.Context) ([]*models.Document, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, upload.MaxBatchBytes+(1<<20))
	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, upload.ErrTooLarge
		}
		return nil, errInvalidForm
	}
	// the session row must exist before documents reference it
	s, ok := h.session(c)
	if !ok {
		return nil, errors.New("session unavailable")
	}
	var files []*multipart.FileHeader
	if c.Request.MultipartForm != nil {
		files = c.Request.MultipartForm.File["files"]
	}
	return h.documents.Accept(c.Request.Context(), s.ID(), files)
}

func (h *Handler) uploadFiles(c *gin.Context) {
	docs, err := h.acceptUpload(c)
	if c.IsAborted() {
		return
	}
	if err != nil {
		status := uploadErrorStatus(err)
		msg := err.Error()
		if status == http.StatusTooManyRequests {
			msg = busyMessage
		}
		if status == http.StatusInternalServerError {
			logging.WithCtx(c.Request.Context()).Error("accept upload", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"documents": docs})
}

func (h *Handler) listUploads(c *gin.Context) {
	sessionID, ok := auth.SessionIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	}
	docs, err := h.documents.List(c.Request.Context(), sessionID)
	if err != nil {
		logging.WithCtx(c.Request.Context()).Error("list documents", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list documents failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

// Voice interface
func (h *Handler) listen(c *gin.Context) (chat.Snapshot, error) {
	if !h.voice.Supported() {
		return chat.Snapshot{}, voice.ErrUnsupported
	}
	fh, err := c.FormFile("audio")
	if err != nil {
		return chat.Snapshot{}, voice.ErrEmptyAudio
	}
	if fh.Size > maxAudioBytes {
		return chat.Snapshot{}, errAudioTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return chat.Snapshot{}, err
	}
	audio, err := io.ReadAll(io.LimitReader(f, maxAudioBytes))
	f.Close()
	if err != nil {
		return chat.Snapshot{}, err
	}

	s, ok := h.session(c)
	if !ok {
		return chat.Snapshot{}, errors.New("session unavailable")
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()
	snap := s.Snapshot()
	err = h.voice.Listen(ctx, audio, func(transcript string) {
		snap = s.SetInput(transcript)
	})
	return snap, err
}

var errAudioTooLarge = errors.New("audio clip too large")

func voiceErrorStatus(err error) int {
	switch {
	case errors.Is(err, voice.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, voice.ErrEmptyAudio):
		return http.StatusBadRequest
	case errors.Is(err, errAudioTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, voice.ErrNoTranscript):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) transcribe(c *gin.Context) {
	snap, err := h.listen(c)
	if c.IsAborted() {
		return
	}
	if err != nil {
		status := voiceErrorStatus(err)
		if status == http.StatusBadGateway {
			logging.WithCtx(c.Request.Context()).Warn("voice input failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}
