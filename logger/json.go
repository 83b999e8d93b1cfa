package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// JSONLogEntry defines a structured log line.
type JSONLogEntry struct {
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Message   string                 `json:"message"`
	Severity  string                 `json:"severity,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Component string                 `json:"component,omitempty"`
}

// String renders an entry as one JSON line.
func (e JSONLogEntry) String() string {
	if e.Severity == "" {
		e.Severity = "INFO"
	}
	out, err := json.Marshal(e)
	if err != nil {
		log.Printf("json.Marshal: %v", err)
	}
	return string(out)
}

type jsonLogger struct {
	metadata  map[string]interface{}
	component string
	sink      Sink
	logLevel  LogLevel
	mu        *sync.Mutex
}

var _ Logger = (*jsonLogger)(nil)

// NewJSON returns a Logger writing one JSON entry per line to sink.
// If sink is nil, entries go to stderr.
func NewJSON(sink Sink, level LogLevel) Logger {
	if sink == nil {
		sink = os.Stderr
	}
	return &jsonLogger{sink: sink, logLevel: level, mu: &sync.Mutex{}}
}

func (c *jsonLogger) clone() *jsonLogger {
	metadata := make(map[string]interface{})
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &jsonLogger{
		metadata:  metadata,
		component: c.component,
		sink:      c.sink,
		logLevel:  c.logLevel,
		mu:        c.mu,
	}
}

func (c *jsonLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	return clone
}

// WithPrefix sets the component of subsequent entries.
func (c *jsonLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	if clone.component == "" {
		clone.component = prefix
	} else {
		clone.component = clone.component + " " + prefix
	}
	return clone
}

func (c *jsonLogger) write(level LogLevel, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	entry := JSONLogEntry{
		Timestamp: time.Now(),
		Message:   fmt.Sprintf(msg, args...),
		Severity:  level.String(),
		Metadata:  c.metadata,
		Component: c.component,
	}
	c.mu.Lock()
	fmt.Fprintln(c.sink, entry.String())
	c.mu.Unlock()
}

func (c *jsonLogger) Trace(msg string, args ...interface{}) { c.write(LevelTrace, msg, args...) }
func (c *jsonLogger) Debug(msg string, args ...interface{}) { c.write(LevelDebug, msg, args...) }
func (c *jsonLogger) Info(msg string, args ...interface{})  { c.write(LevelInfo, msg, args...) }
func (c *jsonLogger) Warn(msg string, args ...interface{})  { c.write(LevelWarn, msg, args...) }
func (c *jsonLogger) Error(msg string, args ...interface{}) { c.write(LevelError, msg, args...) }
