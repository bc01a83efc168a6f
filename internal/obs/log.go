package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// serviceName is stamped onto every structured line so aggregated streams
// stay attributable when several services share one sink.
const serviceName = "udhaar-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits a structured JSON log line with common HTTP fields. The
// caller's entry is not mutated; a "service" field is added unless the caller
// set one.
func LogRequest(entry map[string]any) {
	out := make(map[string]any, len(entry)+1)
	out["service"] = serviceName
	for k, v := range entry {
		out[k] = v
	}
	data, err := json.Marshal(out)
	if err != nil {
		Logger().Println(`{"level":"error","service":"` + serviceName + `","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
