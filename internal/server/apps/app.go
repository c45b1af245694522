// Package apps adapts request handling applications to net/http.
package apps

import (
	"context"
	"log/slog"
	"net/http"
)

// App handles HTTP requests. HandleHTTP has already written a response when it returns an
// error; the error is for logging.
type App interface {
	String() string
	HandleHTTP(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// Handler wraps an App as an http.Handler, logging returned errors at debug level.
func Handler(app App, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("app", app.String())
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := app.HandleHTTP(r.Context(), w, r); err != nil {
			logger.Debug("App returned an error", "error", err)
		}
	})
}
