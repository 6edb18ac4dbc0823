package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"legalease/internal/logging"
	"legalease/internal/models"

	"go.uber.org/zap"
)

const (
	// FallbackAnswer replaces a reply that carries no answer.
	FallbackAnswer = "No response generated."
	// FailureMessage is shown for any failed exchange, whatever the cause.
	FailureMessage = "Something went wrong while contacting the assistant. Please try again."

	maxTitleRunes = 60
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrInFlight     = errors.New("a message is already being sent")
	ErrClosed       = errors.New("conversation was reset")
)

// Asker answers one question. An empty answer means the reply carried none.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Recorder persists messages as they are appended.
type Recorder interface {
	AppendMessage(ctx context.Context, msg models.Message) (*models.Message, error)
}

// Snapshot is an immutable copy of a session used for rendering.
type Snapshot struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Messages []models.Message `json:"messages"`
	Input    string           `json:"input"`
	Phase    Phase            `json:"phase"`
	Loading  bool             `json:"loading"`
	Error    string           `json:"error,omitempty"`
	Version  uint64           `json:"version"`
}

// Session is one visitor's conversation: message log, input buffer, phase and error slot.
type Session struct {
	mu        sync.Mutex
	id        string
	title     string
	messages  []models.Message
	input     string
	phase     Phase
	errText   string
	version   uint64
	current   *Exchange
	asker     Asker
	recorder  Recorder
	observers map[int]func(Snapshot)
	nextObs   int
	closed    bool
}

type Option func(*Session)

func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithHistory seeds a restored session.
func WithHistory(title string, messages []models.Message) Option {
	return func(s *Session) {
		s.title = title
		s.messages = append([]models.Message(nil), messages...)
	}
}

func NewSession(id string, asker Asker, opts ...Option) *Session {
	s := &Session{
		id:        id,
		asker:     asker,
		observers: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) ID() string {
	return s.id
}

// Exchange is one outstanding request started by Begin.
type Exchange struct {
	session  *Session
	Question string
	done     chan struct{}
}

// Begin performs the synchronous half of a send: it appends the user message,
// clears the input buffer and the error, and enters PhaseSending.
func (s *Session) Begin(ctx context.Context, text string) (*Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	to, ok := next(s.phase, eventSubmit)
	if !ok {
		s.mu.Unlock()
		return nil, ErrInFlight
	}
	msg := s.recordLocked(ctx, models.Message{
		SessionID: s.id,
		Role:      models.RoleUser,
		Content:   text,
		CreatedAt: time.Now().UTC(),
	})
	s.messages = append(s.messages, msg)
	if s.title == "" {
		s.title = titleFrom(text)
	}
	s.input = ""
	s.errText = ""
	s.phase = to
	ex := &Exchange{session: s, Question: text, done: make(chan struct{})}
	s.current = ex
	snap := s.changedLocked()
	s.mu.Unlock()

	s.notify(snap)
	return ex, nil
}

// Run issues the request and reconciles the session with its outcome.
// The returned error is the remote failure, already reflected in the session.
func (ex *Exchange) Run(ctx context.Context) error {
	answer, err := ex.ask(ctx)
	ex.session.complete(ctx, ex, answer, err)
	return err
}

// ask calls the Asker; a panic fails the exchange before it propagates.
func (ex *Exchange) ask(ctx context.Context) (string, error) {
	defer func() {
		if r := recover(); r != nil {
			ex.session.complete(ctx, ex, "", fmt.Errorf("ask panicked: %v", r))
			panic(r)
		}
	}()
	return ex.session.asker.Ask(ctx, ex.Question)
}

// Fail settles the exchange as failed without issuing the request.
func (ex *Exchange) Fail(ctx context.Context, err error) {
	if err == nil {
		err = errors.New("exchange aborted")
	}
	ex.session.complete(ctx, ex, "", err)
}

// Done is closed once the exchange has settled.
func (ex *Exchange) Done() <-chan struct{} {
	return ex.done
}

func (s *Session) complete(ctx context.Context, ex *Exchange, answer string, err error) {
	s.mu.Lock()
	if s.current != ex {
		s.mu.Unlock()
		return
	}
	if err != nil {
		logging.WithCtx(ctx).Warn("chat exchange failed", zap.String("session_id", s.id), zap.Error(err))
		s.phase, _ = next(s.phase, eventFail)
		s.errText = FailureMessage
	} else {
		if answer == "" {
			answer = FallbackAnswer
		}
		msg := s.recordLocked(ctx, models.Message{
			SessionID: s.id,
			Role:      models.RoleAssistant,
			Content:   answer,
			CreatedAt: time.Now().UTC(),
		})
		s.messages = append(s.messages, msg)
		s.phase, _ = next(s.phase, eventReply)
	}
	s.current = nil
	close(ex.done)
	snap := s.changedLocked()
	s.mu.Unlock()

	s.notify(snap)
}

// SendMessage runs a whole exchange on the calling goroutine. Only the send
// guards are returned as errors; a failed request shows up in the snapshot.
func (s *Session) SendMessage(ctx context.Context, text string) (Snapshot, error) {
	ex, err := s.Begin(ctx, text)
	if err != nil {
		return s.Snapshot(), err
	}
	_ = ex.Run(ctx)
	return s.Snapshot(), nil
}

// Wait blocks until no exchange is outstanding.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	ex := s.current
	s.mu.Unlock()
	if ex == nil {
		return nil
	}
	select {
	case <-ex.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetInput replaces the input buffer.
func (s *Session) SetInput(text string) Snapshot {
	s.mu.Lock()
	s.input = text
	snap := s.changedLocked()
	s.mu.Unlock()
	s.notify(snap)
	return snap
}

// DismissError clears the error and settles a finished exchange back to idle.
func (s *Session) DismissError() Snapshot {
	s.mu.Lock()
	to, ok := next(s.phase, eventSettle)
	if !ok {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap
	}
	s.phase = to
	s.errText = ""
	snap := s.changedLocked()
	s.mu.Unlock()
	s.notify(snap)
	return snap
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Busy reports whether an exchange is outstanding.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// retire closes the session for good unless an exchange is outstanding.
// A retired session refuses sends and no longer notifies observers.
func (s *Session) retire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return false
	}
	s.closed = true
	s.observers = make(map[int]func(Snapshot))
	return true
}

// Subscribe registers fn for every state change; the returned func removes it.
// fn runs on the goroutine that changed the state and must not block.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

func (s *Session) recordLocked(ctx context.Context, msg models.Message) models.Message {
	if s.recorder == nil {
		return msg
	}
	stored, err := s.recorder.AppendMessage(context.WithoutCancel(ctx), msg)
	if err != nil {
		logging.WithCtx(ctx).Error("persist message", zap.String("session_id", s.id), zap.Error(err))
		return msg
	}
	return *stored
}

func (s *Session) changedLocked() Snapshot {
	s.version++
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:       s.id,
		Title:    s.title,
		Messages: append(make([]models.Message, 0, len(s.messages)), s.messages...),
		Input:    s.input,
		Phase:    s.phase,
		Loading:  s.phase == PhaseSending,
		Error:    s.errText,
		Version:  s.version,
	}
}

func (s *Session) notify(snap Snapshot) {
	s.mu.Lock()
	observers := make([]func(Snapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	s.mu.Unlock()
	for _, fn := range observers {
		fn(snap)
	}
}

func titleFrom(text string) string {
	title := strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return string(runes[:maxTitleRunes]) + "..."
}
