package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger writes one JSON object per line. Each component owns a Logger
// tagged with its name.
type Logger struct {
	component string
	mu        *sync.Mutex
	out       io.Writer
}

func New(component string) *Logger {
	return &Logger{component: component, mu: &sync.Mutex{}, out: os.Stdout}
}

// NewWriter is like New but writes to w. Used by tests.
func NewWriter(component string, w io.Writer) *Logger {
	return &Logger{component: component, mu: &sync.Mutex{}, out: w}
}

// Named returns a Logger for a sub-component sharing the same output.
func (l *Logger) Named(component string) *Logger {
	return &Logger{component: component, mu: l.mu, out: l.out}
}

func (l *Logger) log(level, action string, fields map[string]any, err error) {
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     level,
		"component": l.component,
		"action":    action,
		"hostname":  hostname(),
	}
	for k, v := range fields {
		entry[k] = v
	}
	if err != nil {
		entry["error"] = map[string]any{"msg": err.Error(), "stack": fmt.Sprintf("%T", err)}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = json.NewEncoder(l.out).Encode(entry)
}

func (l *Logger) Info(action string, fields map[string]any)  { l.log("INFO", action, fields, nil) }
func (l *Logger) Debug(action string, fields map[string]any) { l.log("DEBUG", action, fields, nil) }
func (l *Logger) Warn(action string, err error, fields map[string]any) {
	l.log("WARN", action, fields, err)
}
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log("ERROR", action, fields, err)
}

func hostname() string { h, _ := os.Hostname(); return h }
