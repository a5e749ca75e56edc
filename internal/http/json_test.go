package httpx

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/target/streamauth/internal/errors"
)

func TestStatusForCode(t *testing.T) {
	tests := map[apperrors.ErrorCode]int{
		apperrors.ErrCodeInvalidCredentials: http.StatusUnauthorized,
		apperrors.ErrCodeUnauthenticated:    http.StatusUnauthorized,
		apperrors.ErrCodeForbidden:          http.StatusForbidden,
		apperrors.ErrCodeNotFound:           http.StatusNotFound,
		apperrors.ErrCodeConflict:           http.StatusConflict,
		apperrors.ErrCodeValidation:         http.StatusBadRequest,
		apperrors.ErrCodeRateLimited:        http.StatusTooManyRequests,
		apperrors.ErrCodeInternal:           http.StatusInternalServerError,
		apperrors.ErrCodeForeignKey:         http.StatusInternalServerError,
		apperrors.ErrCodeTimeout:            http.StatusInternalServerError,
		"":                                  http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, StatusForCode(code), "code %q", code)
	}
}

func respond(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	RespondError(rec, httptest.NewRequest(http.MethodGet, "/", nil), slog.New(slog.NewTextHandler(io.Discard, nil)), err)
	return rec
}

func TestRespondError_ClientErrors(t *testing.T) {
	rec := respond(t, fmt.Errorf("register: %w", apperrors.ConflictField("email", "email already registered")))

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.JSONEq(t, `{"error":"email already registered","code":"conflict","field":"email"}`, rec.Body.String())
}

func TestRespondError_RetryAfter(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want string
	}{
		{29*time.Second + 100*time.Millisecond, "30"},
		{30 * time.Second, "30"},
		{0, "1"},
		{-time.Second, "1"},
	}
	for _, tt := range tests {
		rec := respond(t, apperrors.RateLimited(tt.wait))
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, tt.want, rec.Header().Get("Retry-After"), "wait %s", tt.wait)
		assert.Equal(t, "rate_limited", decodeBody(t, rec)["code"])
	}
}

func TestRespondError_InternalHidesCause(t *testing.T) {
	for _, err := range []error{
		errors.New("pq: password authentication failed for user streamauth"),
		apperrors.Wrap(errors.New("dial tcp 10.0.0.5:5432"), apperrors.ErrCodeInternal, "query principal"),
		apperrors.Wrap(errors.New("deadline"), apperrors.ErrCodeTimeout, "slow query"),
	} {
		rec := respond(t, err)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.JSONEq(t, `{"error":"internal server error","code":"internal"}`, rec.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name    string
		body    string
		ok      bool
		wantMsg string
	}{
		{"valid", `{"name":"a"}`, true, ""},
		{"empty", ``, false, "request body is required"},
		{"malformed", `{"name":`, false, "request body must be a valid JSON object"},
		{"unknown field", `{"name":"a","admin":true}`, false, "request body must be a valid JSON object"},
		{"too large", `{"name":"` + strings.Repeat("x", maxBodyBytes) + `"}`, false, "request body must be a valid JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst payload
			ok := DecodeJSON(rec, req, &dst)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, "a", dst.Name)
				return
			}
			require.Equal(t, http.StatusBadRequest, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, "invalid_json", body["code"])
			assert.Equal(t, tt.wantMsg, body["error"])
		})
	}
}
