package auth

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"legalease/internal/config"
	"legalease/internal/redis"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func TestAuthIssueValidateRevoke(t *testing.T) {
	svc := NewService("test-secret", nil, time.Hour)
	token, err := svc.IssueToken("session-1")
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if token == "" {
		t.Fatalf("expected token")
	}
	sessionID, err := svc.ValidateToken(context.Background(), token)
	if err != nil || sessionID != "session-1" {
		t.Fatalf("ValidateToken failed: id=%q err=%v", sessionID, err)
	}
	if err := svc.RevokeToken(context.Background(), token); err != nil {
		t.Fatalf("RevokeToken error: %v", err)
	}
	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked error, got %v", err)
	}
}

func TestAuthValidateExpiredToken(t *testing.T) {
	svc := NewService("test-secret", nil, time.Hour)
	past := time.Now().Add(-2 * time.Hour)
	claims := jwt.RegisteredClaims{
		ID:        "expired",
		Subject:   "session-2",
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(past),
		ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
}

func TestAuthRejectsForeignSignature(t *testing.T) {
	issuer := NewService("other-secret", nil, time.Hour)
	token, err := issuer.IssueToken("session-3")
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	svc := NewService("test-secret", nil, time.Hour)
	if _, err := svc.ValidateToken(context.Background(), token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token error, got %v", err)
	}
	if _, err := svc.ValidateToken(context.Background(), ""); !errors.Is(err, ErrTokenRequired) {
		t.Fatalf("expected token required, got %v", err)
	}
}

func TestVisitorMintsSessionAndKeepsIt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService("test-secret", nil, time.Hour)
	router := gin.New()
	router.Use(svc.Visitor())
	router.GET("/whoami", func(c *gin.Context) {
		id, _ := SessionIDFromContext(c)
		c.String(http.StatusOK, id)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	first := rec.Body.String()
	if first == "" {
		t.Fatalf("expected a session id")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected session and csrf cookies, got %d", len(cookies))
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Body.String() != first {
		t.Fatalf("session changed: %q -> %q", first, rec.Body.String())
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected no new cookies for a valid session")
	}
}

func TestCSRFMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewService("test-secret", nil, time.Hour)
	router := gin.New()
	router.Use(svc.CSRFMiddleware())
	router.POST("/submit", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		header string
		form   string
		cookie string
		want   int
	}{
		{name: "missing", cookie: "abc", want: http.StatusForbidden},
		{name: "mismatch", header: "xyz", cookie: "abc", want: http.StatusForbidden},
		{name: "header", header: "abc", cookie: "abc", want: http.StatusNoContent},
		{name: "form field", form: "abc", cookie: "abc", want: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body := url.Values{}
			if tc.form != "" {
				body.Set(svc.CSRFFormField(), tc.form)
			}
			req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			if tc.header != "" {
				req.Header.Set(svc.CSRFHeaderName(), tc.header)
			}
			req.AddCookie(&http.Cookie{Name: svc.CSRFCookieName(), Value: tc.cookie})
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestAuthRevocationSharedThroughRedis(t *testing.T) {
	client := newTestRedisClient(t)
	defer client.Close()

	issuer := NewService("test-secret", client, time.Hour)
	token, err := issuer.IssueToken("session-4")
	if err != nil {
		t.Fatalf("IssueToken error: %v", err)
	}
	if err := issuer.RevokeToken(context.Background(), token); err != nil {
		t.Fatalf("RevokeToken error: %v", err)
	}

	// a second instance only learns about the revocation through redis
	other := NewService("test-secret", client, time.Hour)
	if _, err := other.ValidateToken(context.Background(), token); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected revoked error, got %v", err)
	}
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("invalid TEST_REDIS_ADDR: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("invalid port: %v", err)
	}
	cfg := &config.Config{Redis: config.RedisConfig{Enabled: true, Host: host, Port: port}}
	client, err := redis.NewRedisClient(cfg)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return client
}
