package logger

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level controls which messages are emitted.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu       sync.Mutex
	minLevel = INFO
	output   = os.Stderr
)

func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	minLevel = level
}

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "?"
	}
}

// DebugC logs a component-tagged message at debug level.
func DebugC(component, msg string) { logC(DEBUG, component, msg, nil) }

// DebugCF logs a component-tagged message with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	logC(DEBUG, component, msg, fields)
}

func InfoC(component, msg string) { logC(INFO, component, msg, nil) }

func InfoCF(component, msg string, fields map[string]interface{}) {
	logC(INFO, component, msg, fields)
}

func WarnC(component, msg string) { logC(WARN, component, msg, nil) }

func WarnCF(component, msg string, fields map[string]interface{}) {
	logC(WARN, component, msg, fields)
}

func ErrorC(component, msg string) { logC(ERROR, component, msg, nil) }

func ErrorCF(component, msg string, fields map[string]interface{}) {
	logC(ERROR, component, msg, fields)
}

func logC(level Level, component, msg string, fields map[string]interface{}) {
	mu.Lock()
	defer mu.Unlock()

	if level < minLevel {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] [")
	b.WriteString(component)
	b.WriteString("] ")
	b.WriteString(msg)

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(" ")
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(formatValue(fields[k]))
		}
	}

	fmt.Fprintln(output, b.String())
}

func formatValue(v interface{}) string {
	s := fmt.Sprintf("%v", v)
	if strings.ContainsAny(s, " \t\n") {
		return fmt.Sprintf("%q", s)
	}
	return s
}
