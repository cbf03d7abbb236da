package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	apierrors "github.com/maruel/mdbooks/internal/errors"
)

// maxBodySize bounds request bodies. Chapters are the largest payload.
const maxBodySize = 8 << 20

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters can be extracted by tagging struct fields with `path:"name"`
// and query parameters with `query:"name"`. Both support string and int
// fields.
//
// Example:
//
//	type GetChapterRequest struct {
//	    BookID    string `path:"id"`
//	    ChapterID string `path:"cid"`
//	}
//
//	func (h *ChapterHandler) Get(ctx context.Context, req GetChapterRequest) (*models.Chapter, error)
func Wrap[In any, Out any](fn func(context.Context, In) (*Out, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
		if err2 := r.Body.Close(); err == nil {
			err = err2
		}
		if err != nil {
			slog.ErrorContext(ctx, "Failed to read request body", "err", err)
			writeError(w, apierrors.BadRequest("Failed to read request body"))
			return
		}
		var input In
		if len(bytes.TrimSpace(body)) > 0 {
			d := json.NewDecoder(bytes.NewReader(body))
			d.DisallowUnknownFields()
			if err := d.Decode(&input); err != nil {
				slog.WarnContext(ctx, "Failed to decode request body", "err", err)
				writeError(w, apierrors.BadRequest("Invalid request body").Wrap(err))
				return
			}
		}

		if err := populateParams(&input, "path", r.PathValue); err != nil {
			writeError(w, err)
			return
		}
		query := r.URL.Query()
		if err := populateParams(&input, "query", query.Get); err != nil {
			writeError(w, err)
			return
		}

		output, err := fn(ctx, input)
		if err != nil {
			var ewsErr apierrors.ErrorWithStatus
			if !errors.As(err, &ewsErr) {
				slog.ErrorContext(ctx, "Handler error", "path", r.URL.Path, "err", err)
				writeError(w, apierrors.InternalWithError("Internal error", err))
				return
			}
			if ewsErr.StatusCode() >= 500 {
				slog.ErrorContext(ctx, "Handler error", "path", r.URL.Path, "err", err, "statusCode", ewsErr.StatusCode(), "code", ewsErr.Code())
			} else {
				slog.DebugContext(ctx, "Handler error", "path", r.URL.Path, "err", err, "statusCode", ewsErr.StatusCode(), "code", ewsErr.Code())
			}
			writeError(w, ewsErr)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(output); err != nil {
			slog.ErrorContext(ctx, "Failed to encode response", "err", err)
		}
	})
}

// populateParams sets the fields of the struct pointed to by input that are
// tagged with tag, looking each value up with get. Empty values are skipped.
func populateParams(input any, tag string, get func(string) string) *apierrors.APIError {
	val := reflect.ValueOf(input)
	if val.Kind() != reflect.Ptr {
		return nil
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Struct {
		return nil
	}
	typ := elem.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		name := field.Tag.Get(tag)
		if name == "" {
			continue
		}
		v := get(name)
		if v == "" {
			continue
		}
		//nolint:exhaustive // Only string and int are supported.
		switch field.Type.Kind() {
		case reflect.String:
			elem.Field(i).SetString(v)
		case reflect.Int:
			n, err := strconv.Atoi(v)
			if err != nil {
				return apierrors.BadRequest("invalid " + tag + " parameter " + name).WithDetail("field", name)
			}
			elem.Field(i).SetInt(int64(n))
		default:
		}
	}
	return nil
}

// writeError writes err as a JSON error response.
//
// Errors of 500 and above only expose their message, not the wrapped cause.
func writeError(w http.ResponseWriter, err apierrors.ErrorWithStatus) {
	msg := err.Error()
	if e, ok := err.(*apierrors.APIError); ok && err.StatusCode() >= 500 {
		msg = e.Message()
	}
	writeErrorResponseWithCode(w, err.StatusCode(), err.Code(), msg, err.Details())
}

// writeErrorResponseWithCode writes a detailed error response as JSON with code and details.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code apierrors.ErrorCode, message string, details map[string]any) {
	if s, ok := details["retry_after"].(string); ok && statusCode == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", s)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}

	if len(details) > 0 {
		response["details"] = details
	}

	_ = json.NewEncoder(w).Encode(response)
}
