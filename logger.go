package tjs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"text/template"
	"time"
)

// Logger logs information generated by the runtime in a template-driven
// line format: a text/template parse of Config.LogFormat folded together
// with the caller's message and, optionally, a set of contextual fields
// attached via With.
type Logger struct {
	enabled bool

	template   *template.Template
	bufferPool *sync.Pool
	mutex      *sync.Mutex
	levels     []string

	// fields are folded into every line this Logger (or a descendant
	// produced by With) writes, in addition to whatever Config.LogFormat
	// itself renders.
	fields map[string]interface{}

	// Output is where formatted log lines are written. Default: os.Stdout.
	Output io.Writer
}

// loggerLevel is the severity of a Logger line.
type loggerLevel uint8

const (
	lvlDebug loggerLevel = iota
	lvlInfo
	lvlWarn
	lvlError
	lvlFatal
)

// NewLogger returns a new Logger configured from c.
func NewLogger(c *Config) *Logger {
	return &Logger{
		enabled: c.LoggerEnabled,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 256))
			},
		},
		mutex:  &sync.Mutex{},
		levels: []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"},
		Output: os.Stdout,
		template: template.Must(
			template.New("logger").Parse(c.LogFormat),
		),
	}
}

// With returns a child Logger that folds fields into every line it logs,
// on top of whatever fields this Logger already carries. The template,
// buffer pool, and output mutex are shared with the parent, so a With
// logger costs no extra allocation beyond the merged field set and lines
// from parent and child never interleave on Output.
//
// Runtime subsystems reach for this instead of threading context through
// every log call site: cmd/tjsrt tags a module's log lines with its
// resolved path, a connection handler can tag its lines with the peer
// address, and so on.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{
		enabled:    l.enabled,
		template:   l.template,
		bufferPool: l.bufferPool,
		mutex:      l.mutex,
		levels:     l.levels,
		fields:     merged,
		Output:     l.Output,
	}
}

// Print prints i with fmt.Sprintln, bypassing level filtering and
// formatting.
func (l *Logger) Print(i ...interface{}) {
	fmt.Fprintln(l.Output, i...)
}

// Printf prints in the given format, bypassing level filtering.
func (l *Logger) Printf(format string, args ...interface{}) {
	fmt.Fprintf(l.Output, format+"\n", args...)
}

// Printj prints m as a JSON line, bypassing level filtering.
func (l *Logger) Printj(m map[string]interface{}) {
	json.NewEncoder(l.Output).Encode(m)
}

// Debug logs at DEBUG level.
func (l *Logger) Debug(i ...interface{}) { l.log(lvlDebug, "", i...) }

// Debugf logs at DEBUG level with a format string.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(lvlDebug, format, args...) }

// Debugj logs m at DEBUG level as JSON.
func (l *Logger) Debugj(m map[string]interface{}) { l.log(lvlDebug, "json", m) }

// Info logs at INFO level.
func (l *Logger) Info(i ...interface{}) { l.log(lvlInfo, "", i...) }

// Infof logs at INFO level with a format string.
func (l *Logger) Infof(format string, args ...interface{}) { l.log(lvlInfo, format, args...) }

// Infoj logs m at INFO level as JSON.
func (l *Logger) Infoj(m map[string]interface{}) { l.log(lvlInfo, "json", m) }

// Warn logs at WARN level.
func (l *Logger) Warn(i ...interface{}) { l.log(lvlWarn, "", i...) }

// Warnf logs at WARN level with a format string.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(lvlWarn, format, args...) }

// Warnj logs m at WARN level as JSON.
func (l *Logger) Warnj(m map[string]interface{}) { l.log(lvlWarn, "json", m) }

// Error logs at ERROR level.
func (l *Logger) Error(i ...interface{}) { l.log(lvlError, "", i...) }

// Errorf logs at ERROR level with a format string.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(lvlError, format, args...) }

// Errorj logs m at ERROR level as JSON.
func (l *Logger) Errorj(m map[string]interface{}) { l.log(lvlError, "json", m) }

// Fatal logs at FATAL level then calls os.Exit(1).
func (l *Logger) Fatal(i ...interface{}) {
	l.log(lvlFatal, "", i...)
	os.Exit(1)
}

// log formats and writes one line, or does nothing if logging is disabled.
func (l *Logger) log(lvl loggerLevel, format string, args ...interface{}) {
	if !l.enabled {
		return
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	buf := l.bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer l.bufferPool.Put(buf)

	var message string
	switch {
	case format == "":
		message = fmt.Sprint(args...)
	case format == "json":
		b, _ := json.Marshal(args[0])
		message = string(b)
	default:
		message = fmt.Sprintf(format, args...)
	}

	_, file, line, _ := runtime.Caller(2)

	data := map[string]interface{}{
		"time_rfc3339": time.Now().Format(time.RFC3339),
		"level":        l.levels[lvl],
		"short_file":   path.Base(file),
		"long_file":    file,
		"line":         strconv.Itoa(line),
	}

	if err := l.template.Execute(buf, data); err != nil {
		return
	}

	fieldKeys := l.sortedFieldKeys()

	s := buf.String()
	if n := buf.Len(); n > 0 && s[n-1] == '}' {
		// The rendered header is a JSON object: fold the message and any
		// With fields in as real keys rather than splicing raw text after
		// its closing brace. A field whose key the template already
		// produced is appended again as a later duplicate key; decoders
		// that keep the last occurrence (as encoding/json does) see the
		// field's value.
		buf.Truncate(n - 1)
		buf.WriteByte(',')
		if format == "json" {
			buf.WriteString(message[1 : len(message)-1])
		} else {
			buf.WriteString(`"message":"`)
			buf.WriteString(message)
			buf.WriteByte('"')
		}
		for _, k := range fieldKeys {
			fv, err := json.Marshal(l.fields[k])
			if err != nil {
				continue
			}
			fmt.Fprintf(buf, ",%q:%s", k, fv)
		}
		buf.WriteByte('}')
	} else {
		buf.WriteByte(' ')
		buf.WriteString(message)
		for _, k := range fieldKeys {
			fmt.Fprintf(buf, " %s=%v", k, l.fields[k])
		}
	}
	buf.WriteByte('\n')

	l.Output.Write(buf.Bytes())
}

// sortedFieldKeys returns l.fields' keys in a stable order, so two lines
// carrying the same field set render identically.
func (l *Logger) sortedFieldKeys() []string {
	if len(l.fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
