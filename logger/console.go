package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"
	"strings"

	"github.com/mattn/go-isatty"
)

const isWindows = runtime.GOOS == "windows"

var noColor = os.Getenv("TERM") == "dumb" ||
	(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))

func color(val string) string {
	if isWindows || noColor {
		return ""
	}
	return val
}

const (
	reset       = "\033[0m"
	red         = "\033[31m"
	green       = "\033[32m"
	magenta     = "\033[35m"
	gray        = "\033[1;90m"
	blueBold    = "\033[34;1m"
	magentaBold = "\033[35;1m"
	redBold     = "\033[31;1m"
	yellowBold  = "\033[33;1m"
	whiteBold   = "\033[37;1m"
	cyanBold    = "\033[36;1m"
	purple      = "\u001b[38;5;200m"
)

type consoleLogger struct {
	prefixes []string
	metadata map[string]interface{}
	logLevel LogLevel
}

var _ Logger = (*consoleLogger)(nil)

// NewConsole returns a Logger that writes colorized lines to the standard
// log output.
func NewConsole(level LogLevel) Logger {
	return &consoleLogger{logLevel: level}
}

func (c *consoleLogger) clone() *consoleLogger {
	prefixes := make([]string, len(c.prefixes))
	copy(prefixes, c.prefixes)
	metadata := make(map[string]interface{})
	for k, v := range c.metadata {
		metadata[k] = v
	}
	return &consoleLogger{
		prefixes: prefixes,
		metadata: metadata,
		logLevel: c.logLevel,
	}
}

func (c *consoleLogger) With(metadata map[string]interface{}) Logger {
	clone := c.clone()
	for k, v := range metadata {
		clone.metadata[k] = v
	}
	return clone
}

// WithPrefix will return a new logger with a prefix prepended to the message
func (c *consoleLogger) WithPrefix(prefix string) Logger {
	clone := c.clone()
	found := false
	for _, p := range clone.prefixes {
		if p == prefix {
			found = true
			break
		}
	}
	if !found {
		clone.prefixes = append(clone.prefixes, prefix)
	}
	return clone
}

func (c *consoleLogger) write(level LogLevel, levelColor string, messageColor string, msg string, args ...interface{}) {
	if level < c.logLevel {
		return
	}
	formatted := fmt.Sprintf(msg, args...)
	var prefix string
	if len(c.prefixes) > 0 {
		prefix = color(purple) + strings.Join(c.prefixes, " ") + color(reset) + " "
	}
	var suffix string
	if len(c.metadata) > 0 {
		buf, _ := json.Marshal(c.metadata)
		suffix = " " + color(gray) + string(buf) + color(reset)
	}
	levelString := level.String()
	var pad string
	if len(levelString) < 5 {
		pad = strings.Repeat(" ", 5-len(levelString))
	}
	levelText := color(levelColor) + fmt.Sprintf("[%s]%s", levelString, pad) + color(reset)
	message := color(messageColor) + formatted + color(reset)
	log.Printf("%s %s%s%s\n", levelText, prefix, message, suffix)
}

func (c *consoleLogger) Trace(msg string, args ...interface{}) {
	c.write(LevelTrace, cyanBold, gray, msg, args...)
}

func (c *consoleLogger) Debug(msg string, args ...interface{}) {
	c.write(LevelDebug, blueBold, green, msg, args...)
}

func (c *consoleLogger) Info(msg string, args ...interface{}) {
	c.write(LevelInfo, yellowBold, whiteBold, msg, args...)
}

func (c *consoleLogger) Warn(msg string, args ...interface{}) {
	c.write(LevelWarn, magentaBold, magenta, msg, args...)
}

func (c *consoleLogger) Error(msg string, args ...interface{}) {
	c.write(LevelError, redBold, red, msg, args...)
}
