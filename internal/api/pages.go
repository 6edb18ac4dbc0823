package api

import (
	"errors"
	"net/http"
	"net/url"

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

const chatPath = "/common-landing"

// notices are the alerts a redirect back to the chat page may carry.
var notices = map[string]string{
	"empty":             "Please type a question first.",
	"in-flight":         "Please wait for the current answer.",
	"busy":              "The assistant is busy right now. Please try again.",
	"voice-unsupported": voice.UnsupportedMessage,
	"no-speech":         "No speech was recognized. Please try again.",
	"voice-failed":      "Voice input failed. Please try again.",
	"upload-none":       "Please choose at least one PDF.",
	"upload-type":       "Only PDF files can be uploaded.",
	"upload-size":       "The selected files are too large.",
	"upload-failed":     "The upload could not be started. Please try again.",
	"uploaded":          "Your documents are being uploaded.",
	"reset-busy":        "Please wait for the current answer before starting over.",
	"reset":             "This conversation was reset. Please ask again.",
}

func (h *Handler) pageData(c *gin.Context, view View) gin.H {
	return gin.H{
		"Title":     view.Title,
		"CSRF":      auth.CSRFTokenFromContext(c),
		"CSRFField": h.auth.CSRFFormField(),
	}
}

func (h *Handler) page(c *gin.Context) {
	view, ok := Resolve(c.Request.URL.Path)
	if !ok {
		noRoute(c)
		return
	}
	switch view.Template {
	case "signup":
		h.renderSignup(c, view, http.StatusOK, signup.Outcome{Form: signup.NewForm(), Errors: signup.Errors{}})
	case "chat":
		h.renderChat(c, view)
	default:
		c.HTML(http.StatusOK, view.Template, h.pageData(c, view))
	}
}

func (h *Handler) renderSignup(c *gin.Context, view View, status int, out signup.Outcome) {
	data := h.pageData(c, view)
	data["Action"] = c.Request.URL.Path
	data["Form"] = out.Form
	data["Errors"] = out.Errors
	data["Alert"] = out.Alert
	data["Success"] = out.Success
	data["UserTypes"] = signup.UserTypeOptions
	c.HTML(status, view.Template, data)
}

func (h *Handler) signupForm(c *gin.Context) {
	view, _ := Resolve(c.Request.URL.Path)
	form := signup.NewForm()
	if err := c.ShouldBind(&form); err != nil {
		h.renderSignup(c, view, http.StatusBadRequest, signup.Outcome{Form: form, Errors: signup.Errors{}, Alert: "The form could not be read. Please try again."})
		return
	}
	out := signup.Submit(c.Request.Context(), h.accounts, form)
	status := signupStatus(out.Kind)
	if status == http.StatusCreated {
		status = http.StatusOK
	}
	h.renderSignup(c, view, status, out)
}

func (h *Handler) renderChat(c *gin.Context, view View) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	docs, err := h.documents.List(c.Request.Context(), s.ID())
	if err != nil {
		logging.WithCtx(c.Request.Context()).Error("list documents", zap.Error(err))
		docs = []*models.Document{}
	}
	data := h.pageData(c, view)
	data["Chat"] = s.Snapshot()
	data["Documents"] = docs
	data["VoiceSupported"] = h.voice.Supported()
	data["Notice"] = notices[c.Query("notice")]
	c.HTML(http.StatusOK, view.Template, data)
}

func backToChat(c *gin.Context, notice string) {
	target := chatPath
	if notice != "" {
		target += "?" + url.Values{"notice": {notice}}.Encode()
	}
	c.Redirect(http.StatusSeeOther, target)
}

func (h *Handler) sendForm(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	_, err := h.startExchange(c.Request.Context(), s, c.PostForm("message"))
	switch {
	case err == nil:
		backToChat(c, "")
	case errors.Is(err, chat.ErrEmptyMessage):
		backToChat(c, "empty")
	case errors.Is(err, chat.ErrInFlight):
		backToChat(c, "in-flight")
	case errors.Is(err, chat.ErrClosed):
		backToChat(c, "reset")
	case errors.Is(err, worker.ErrDispatcherBusy), errors.Is(err, worker.ErrDispatcherStopped):
		backToChat(c, "busy")
	default:
		logging.WithCtx(c.Request.Context()).Error("send message", zap.Error(err))
		backToChat(c, "busy")
	}
}

func (h *Handler) uploadForm(c *gin.Context) {
	_, err := h.acceptUpload(c)
	if c.IsAborted() {
		return
	}
	switch {
	case err == nil:
		backToChat(c, "uploaded")
	case errors.Is(err, upload.ErrNoFiles):
		backToChat(c, "upload-none")
	case errors.Is(err, upload.ErrUnsupportedType):
		backToChat(c, "upload-type")
	case errors.Is(err, upload.ErrTooLarge):
		backToChat(c, "upload-size")
	default:
		logging.WithCtx(c.Request.Context()).Warn("accept upload", zap.Error(err))
		backToChat(c, "upload-failed")
	}
}

func (h *Handler) voiceForm(c *gin.Context) {
	_, err := h.listen(c)
	if c.IsAborted() {
		return
	}
	switch {
	case err == nil:
		backToChat(c, "")
	case errors.Is(err, voice.ErrUnsupported):
		backToChat(c, "voice-unsupported")
	case errors.Is(err, voice.ErrNoTranscript), errors.Is(err, voice.ErrEmptyAudio):
		backToChat(c, "no-speech")
	default:
		logging.WithCtx(c.Request.Context()).Warn("voice input failed", zap.Error(err))
		backToChat(c, "voice-failed")
	}
}

func (h *Handler) dismissForm(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.DismissError()
	backToChat(c, "")
}

func (h *Handler) resetForm(c *gin.Context) {
	if err := h.reset(c); err != nil {
		if errors.Is(err, chat.ErrInFlight) {
			backToChat(c, "reset-busy")
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reset failed"})
		return
	}
	backToChat(c, "")
}
