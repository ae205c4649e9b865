package serverutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	pcerrs "github.com/jdholdren/podcatch/internal/errors"
)

func WriteJSON(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("error encoding json response: %s", err)
	}

	return nil
}

// WriteEvent writes data as one server-sent event and flushes it to the client.
func WriteEvent(w http.ResponseWriter, event string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("error encoding event: %s", err)
	}

	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
		return err
	}

	return http.NewResponseController(w).Flush()
}

// WriteComment writes an event stream comment, which clients ignore, and flushes it.
func WriteComment(w http.ResponseWriter, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}

	return http.NewResponseController(w).Flush()
}

func AccessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Info("request received", "method", r.Method, "path", r.URL.Path)
		start := time.Now()

		writer := &respCodeWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(writer, r)

		slog.Info("request completed",
			"method", r.Method,
			"url", r.URL.String(),
			"duration", time.Since(start),
			"status_code", writer.code,
		)
	})
}

// To trap the response status code for logging later.
type respCodeWriter struct {
	http.ResponseWriter
	code int
}

func (w *respCodeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets [http.ResponseController] reach the underlying writer, for streaming.
func (w *respCodeWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// HandlerFuncE is a modified type of [http.HandlerFunc] that returns an error.
type HandlerFuncE func(w http.ResponseWriter, r *http.Request) error

func (f HandlerFuncE) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	err := f(w, r)
	if err == nil {
		return
	}

	// Either it's already a structured error, or coerce it to one
	pcErr := &pcerrs.Error{}
	if !errors.As(err, &pcErr) {
		slog.ErrorContext(r.Context(), "unstructured error", "error", err)
		pcErr = pcerrs.E(http.StatusInternalServerError, "internal server error")
	}
	if pcErr.Status() >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "error handling request", "error", err)
	}

	if err := WriteJSON(w, pcErr.Status(), pcErr); err != nil {
		slog.Error("error writing response", "error", err)
	}
}

// ErrRouter is a newtype around a mux router that allows attaching handlers that return errors.
type ErrRouter struct {
	*mux.Router
}

func (r ErrRouter) HandleFuncE(path string, f HandlerFuncE) *mux.Route {
	return r.Handle(path, f)
}

// QueryInt reads an optional integer query parameter, returning def when it is absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pcerrs.E(pcerrs.Invalid, fmt.Sprintf("%s must be an integer", name))
	}

	return n, nil
}

// QueryLimit reads a "limit" query parameter. Absent or non-positive limits fall
// back to def and larger ones are capped at maxLimit.
func QueryLimit(r *http.Request, def, maxLimit int) (int, error) {
	limit, err := QueryInt(r, "limit", def)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = def
	}

	return min(limit, maxLimit), nil
}

// QueryBool reads an optional boolean query parameter, false when absent.
func QueryBool(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}

	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pcerrs.E(pcerrs.Invalid, fmt.Sprintf("%s must be a boolean", name))
	}

	return b, nil
}

// QueryRequired reads a query parameter that must be present.
func QueryRequired(r *http.Request, name string) (string, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", pcerrs.E(pcerrs.Invalid, fmt.Sprintf("missing %s", name))
	}

	return v, nil
}
