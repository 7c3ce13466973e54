package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/auth"
	"github.com/vovakirdan/deploydeck/internal/backend/local"
	"github.com/vovakirdan/deploydeck/internal/config"
	"github.com/vovakirdan/deploydeck/internal/proto"
	"github.com/vovakirdan/deploydeck/internal/realtime"
	"github.com/vovakirdan/deploydeck/internal/store/sqlite"
)

const testAdminEmail = "admin@example.com"

type testServer struct {
	ts *httptest.Server
}

// newTestServer starts the full router over an in-memory store.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLogger(t, zerolog.Nop())
}

func newTestServerWithLogger(t *testing.T, logger zerolog.Logger) *testServer {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := realtime.NewHub(nil, 16)
	go hub.Run(ctx)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	}, testAdminEmail)

	cfg := config.Default()
	cfg.AuthRateLimit = 0

	ts := httptest.NewServer(NewRouter(local.New(st, hub, hub, &logger), authService, &cfg, &logger))
	t.Cleanup(ts.Close)

	return &testServer{ts: ts}
}

// do issues a JSON request and returns the status and raw body.
func (s *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := stdhttp.NewRequest(method, s.ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, raw
}

// signUp creates an account and returns its token and user id.
func (s *testServer) signUp(t *testing.T, email, fullName string) (token, userID string) {
	t.Helper()

	status, raw := s.do(t, stdhttp.MethodPost, "/api/auth/signup", "", proto.SignUpRequest{
		Email:    email,
		Password: "password123",
		FullName: fullName,
	})
	if status != stdhttp.StatusCreated {
		t.Fatalf("sign-up %s: status %d: %s", email, status, raw)
	}
	var resp proto.AuthResponse
	decode(t, raw, &resp)
	return resp.Token, resp.User.ID()
}

func decode(t *testing.T, raw []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(raw, out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func expectError(t *testing.T, status int, raw []byte, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus {
		t.Fatalf("expected status %d, got %d: %s", wantStatus, status, raw)
	}
	var resp proto.ErrorResponse
	decode(t, raw, &resp)
	if resp.Code != wantCode {
		t.Fatalf("expected code %q, got %q (%s)", wantCode, resp.Code, resp.Error)
	}
}

// lockedBuffer collects log output written from handler goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
