package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("QUOTEBOT_WORKER_DEBUG"), "1")

func debugLog(format string, args ...any) {
	if workerDebugEnabled {
		slog.DebugContext(context.Background(), fmt.Sprintf(format, args...), "component", "worker")
	}
}
