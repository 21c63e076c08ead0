package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

const serviceName = "citykey-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared JSON-line logger. Lines go to stdout with no
// prefix so the entry itself is the whole line.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one structured JSON line, stamping the service name and
// filling ts/level when the caller omitted them.
func LogRequest(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["level"]; !ok {
		entry["level"] = "info"
	}
	entry["service"] = serviceName
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed","service":"` + serviceName + `"}`)
		return
	}
	Logger().Println(string(data))
}
