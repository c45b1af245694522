// Package script serves HTTP requests with the Lua handler of a script host.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/atlanticdynamic/nitr/internal/script/errz"
	"github.com/atlanticdynamic/nitr/internal/script/marshal"
	"github.com/atlanticdynamic/nitr/internal/server/apps"
	"github.com/gofrs/uuid/v5"
)

var _ apps.App = (*ScriptApp)(nil)

// Caller runs the handler for one request.
type Caller interface {
	Call(ctx context.Context, r *http.Request) (*marshal.Response, error)
}

// ScriptApp writes the handler's response, or a fixed 500 response when the call fails.
type ScriptApp struct {
	id     string
	host   Caller
	logger *slog.Logger
}

// New creates a script app backed by host.
func New(id string, host Caller, logger *slog.Logger) (*ScriptApp, error) {
	if host == nil {
		return nil, fmt.Errorf("script app %q requires a host", id)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ScriptApp{
		id:     id,
		host:   host,
		logger: logger.With("app_id", id, "app_type", "script"),
	}, nil
}

// String returns the unique identifier of the application.
func (s *ScriptApp) String() string {
	return s.id
}

// HandleHTTP runs the handler. Failure details go to the log, never to the client.
func (s *ScriptApp) HandleHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	logger := s.logger.With("request_id", requestID(), "method", r.Method, "path", r.URL.Path)

	start := time.Now()
	resp, err := s.host.Call(ctx, r.WithContext(ctx))
	duration := time.Since(start)

	if err != nil {
		switch {
		case errors.Is(err, errz.ErrHandlerNotLoaded):
			logger.Warn("Request received with no handler loaded", "duration", duration)
			marshal.WriteHandlerNotLoaded(w)
		case ctx.Err() != nil:
			logger.Debug("Request abandoned before the handler ran", "error", err)
			marshal.WriteInternalError(w)
		default:
			logger.Error("Handler failed", "error", err, "duration", duration)
			marshal.WriteInternalError(w)
		}
		return err
	}

	resp.Write(w)
	logger.Debug("Handler completed", "status", resp.Status, "duration", duration)
	return nil
}

func requestID() string {
	id, err := uuid.NewV6()
	if err != nil {
		return ""
	}
	return id.String()
}
