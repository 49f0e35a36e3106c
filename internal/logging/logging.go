package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	mu    sync.Mutex
	out   io.Writer = os.Stdout
	debug           = os.Getenv("DEBUG") != ""
)

// Logf writes a timestamped line. Callers prefix messages with a bracketed
// tag such as "[INGEST]" or "[STORAGE]".
func Logf(format string, v ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(out, "[%s] "+format+"\n", append([]interface{}{time.Now().Format(time.RFC3339)}, v...)...)
}

// Debugf is Logf gated on the DEBUG environment variable.
func Debugf(format string, v ...interface{}) {
	mu.Lock()
	enabled := debug
	mu.Unlock()
	if !enabled {
		return
	}
	Logf("[DEBUG] "+format, v...)
}

// SetOutput redirects log output and returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	mu.Lock()
	defer mu.Unlock()
	prev := out
	out = w
	return prev
}

// SetDebug toggles Debugf output.
func SetDebug(enabled bool) {
	mu.Lock()
	debug = enabled
	mu.Unlock()
}

// DebugEnabled reports whether Debugf output is on.
func DebugEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return debug
}
