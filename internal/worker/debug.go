package worker

import (
	"os"
	"strings"

	"legalease/internal/logging"

	"go.uber.org/zap"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("LEGALEASE_WORKER_DEBUG"), "1")

func debugLog(msg string, fields ...zap.Field) {
	if workerDebugEnabled {
		logging.L().Debug(msg, fields...)
	}
}
