package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	apperrors "github.com/target/streamauth/internal/errors"
)

// maxBodyBytes caps request bodies; auth payloads are a few hundred bytes.
const maxBodyBytes = 1 << 16

const genericInternalMessage = "internal server error"

// DecodeJSON decodes JSON from the request body into the destination and handles errors.
// Returns true if successful, false if there was an error (error response already written).
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		msg := "request body must be a valid JSON object"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: errors.New(msg)})
		return false
	}

	return true
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		// Response writer errors (e.g., client disconnect) can't be recovered from here.
		return
	}
}

// ErrorParams groups parameters for WriteError.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
	Field   string
}

// errorBody is the wire shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

// WriteError writes a JSON error response using ErrorParams.
// Err's message is sent verbatim, so it must already be client safe.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, errorBody{Error: p.Err.Error(), Code: p.ErrCode, Field: p.Field})
}

// StatusForCode maps an application error code to its HTTP status.
// Codes with no client meaning map to 500.
func StatusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeInvalidCredentials, apperrors.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case apperrors.ErrCodeForbidden:
		return http.StatusForbidden
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// RespondError renders err using the error taxonomy. Anything that is not a
// client-facing AppError is logged and answered with a generic 500 body.
func RespondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	appErr, ok := apperrors.As(err)
	if ok {
		if status := StatusForCode(appErr.Code); status != http.StatusInternalServerError {
			if appErr.Code == apperrors.ErrCodeRateLimited {
				w.Header().Set("Retry-After", retryAfterSeconds(appErr))
			}
			WriteJSON(w, status, errorBody{Error: appErr.Message, Code: string(appErr.Code), Field: appErr.Field})
			return
		}
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(r.Context(), "request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.Any("error", err),
	)
	WriteJSON(w, http.StatusInternalServerError, errorBody{
		Error: genericInternalMessage,
		Code:  string(apperrors.ErrCodeInternal),
	})
}

func retryAfterSeconds(e *apperrors.AppError) string {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
