package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"legalease/internal/logging"

	"go.uber.org/zap"
)

const (
	signupPath = "signup/"
	chatPath   = "chat/"
	uploadPath = "upload-pdf/"

	uploadField = "files"
	pdfMimeType = "application/pdf"
)

// Client talks to the account, chat and upload endpoints under one base URL.
type Client struct {
	base string
	http *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the default http client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient creates a client for authBase (e.g. http://host/api/accounts).
func NewClient(authBase string, timeout time.Duration, opts ...Option) (*Client, error) {
	authBase = strings.TrimSpace(authBase)
	if authBase == "" {
		return nil, errors.New("remote base url required")
	}
	if !strings.HasPrefix(authBase, "http://") && !strings.HasPrefix(authBase, "https://") {
		return nil, fmt.Errorf("remote base url must be http(s): %s", authBase)
	}
	c := &Client{
		base: strings.TrimRight(authBase, "/") + "/",
		http: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type SignupRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	UserType        string `json:"user_type"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	PhoneNumber     string `json:"phone_number"`
	Organization    string `json:"organization"`
}

// Account is the payload returned by a successful signup.
type Account struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	UserType     string `json:"user_type"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PhoneNumber  string `json:"phone_number"`
	Organization string `json:"organization"`
	IsVerified   bool   `json:"is_verified"`
}

// Signup registers an account. A rejected signup with a JSON body yields *SignupError.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*Account, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode signup: %w", err)
	}
	status, payload, err := c.do(ctx, signupPath, "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		fields, ok := decodeFieldErrors(payload)
		if !ok {
			return nil, &StatusError{StatusCode: status, Body: payload}
		}
		return nil, &SignupError{StatusCode: status, Fields: fields}
	}

	var account Account
	if len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, &account); err != nil {
			logging.WithCtx(ctx).Warn("decode signup response", zap.Error(err))
		}
	}
	return &account, nil
}

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer *string `json:"answer"`
}

// Ask sends one question and returns the answer, "" when the reply carries none.
func (c *Client) Ask(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(chatRequest{Question: question})
	if err != nil {
		return "", fmt.Errorf("encode chat: %w", err)
	}
	status, payload, err := c.do(ctx, chatPath, "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", &StatusError{StatusCode: status, Body: payload}
	}
	var resp chatResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if resp.Answer == nil {
		return "", nil
	}
	return *resp.Answer, nil
}

// UploadFile is one part of an upload batch.
type UploadFile struct {
	Name   string
	Reader io.Reader
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadPDFs sends every file in one multipart request as repeated "files" parts.
func (c *Client) UploadPDFs(ctx context.Context, files []UploadFile) error {
	if len(files) == 0 {
		return errors.New("no files to upload")
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeParts(mw, files))
	}()

	status, payload, err := c.do(ctx, uploadPath, mw.FormDataContentType(), pr)
	// unblock the writer when the request ended early
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &StatusError{StatusCode: status, Body: payload}
	}
	return nil
}

func writeParts(mw *multipart.Writer, files []UploadFile) error {
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="%s"; filename="%s"`, uploadField, quoteEscaper.Replace(f.Name)))
		header.Set("Content-Type", pdfMimeType)
		part, err := mw.CreatePart(header)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	return mw.Close()
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logging.WithCtx(ctx).Warn("remote request failed", zap.String("path", path), zap.Error(err))
		return 0, nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read body: %v", ErrUnreachable, err)
	}
	return resp.StatusCode, payload, nil
}
