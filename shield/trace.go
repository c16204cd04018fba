package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/hazyhaar/nfsebot/kit"
)

// HeaderTraceID carries the trace id in both directions. A proxy may set it
// so its own logs and ours share one id.
const HeaderTraceID = "X-Trace-ID"

var validTraceID = regexp.MustCompile(`^[0-9a-fA-F]{8,32}$`)

// TraceID tags each request with a trace id (the caller's, when well formed)
// and stores a logger carrying it, plus the owner when Owner ran first.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(HeaderTraceID)
		if !validTraceID.MatchString(traceID) {
			id := make([]byte, 4)
			rand.Read(id)
			traceID = hex.EncodeToString(id)
		}
		ctx := kit.WithTraceID(r.Context(), traceID)
		w.Header().Set(HeaderTraceID, traceID)

		attrs := []any{"trace_id", traceID, "method", r.Method, "path", r.URL.Path}
		if owner, _ := kit.GetOwner(ctx); owner != "" {
			attrs = append(attrs, "owner", owner)
		}
		logger := slog.Default().With(attrs...)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Debug("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetLogger returns the request logger, or slog.Default() outside a request.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
