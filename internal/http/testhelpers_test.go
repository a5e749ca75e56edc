package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	domainauth "github.com/target/streamauth/internal/domain/auth"
	memory "github.com/target/streamauth/internal/mocks/auth"
	"github.com/target/streamauth/internal/service"
)

const testPassword = "s3cret-password"

// testEnv wires the real AuthService over in-memory storage behind NewRouter.
type testEnv struct {
	handler http.Handler
	svc     *service.AuthService
	store   *memory.MemoryStore
	clock   *memory.Clock
}

func newTestEnv(t *testing.T, mutate ...func(*RouterServices)) *testEnv {
	t.Helper()
	store := memory.NewMemoryStore()
	clock := memory.NewClock(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc, err := service.NewAuthService(service.AuthServiceOptions{
		Principals: store.Principals(),
		Sessions:   store.Sessions(),
		Hasher:     memory.PlainHasher{},
		Tokens:     &memory.SequenceTokens{},
		Logger:     logger,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	rs := RouterServices{
		Auth:              svc,
		Admin:             svc,
		Cookie:            CookieConfig{Name: "session_token"},
		AllowRegistration: true,
		Logger:            logger,
		Now:               clock.Now,
	}
	for _, fn := range mutate {
		fn(&rs)
	}
	return &testEnv{handler: NewRouter(rs), svc: svc, store: store, clock: clock}
}

// seed creates an active principal with testPassword.
func (e *testEnv) seed(t *testing.T, username string, role domainauth.Role) *domainauth.Principal {
	t.Helper()
	p, err := e.svc.CreatePrincipal(context.Background(), service.CreatePrincipalInput{
		RegisterInput: service.RegisterInput{
			Username: username,
			Email:    username + "@example.com",
			Password: testPassword,
		},
		Role: role,
	})
	require.NoError(t, err)
	return p
}

// token logs username in through the service and returns the raw token.
func (e *testEnv) token(t *testing.T, username string) string {
	t.Helper()
	issued, err := e.svc.Login(context.Background(), service.LoginInput{Identifier: username, Password: testPassword})
	require.NoError(t, err)
	return issued.Token
}

type reqOption func(*http.Request)

func withBearer(token string) reqOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func withCookie(name, value string) reqOption {
	return func(r *http.Request) { r.AddCookie(&http.Cookie{Name: name, Value: value}) }
}

func withHeader(k, v string) reqOption {
	return func(r *http.Request) { r.Header.Set(k, v) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...reqOption) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func sessionCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
