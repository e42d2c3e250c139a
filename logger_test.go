package tjs

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerDisabledByDefaultConfig(t *testing.T) {
	c := NewConfig()
	c.LoggerEnabled = false
	l := NewLogger(c)

	buf := &bytes.Buffer{}
	l.Output = buf

	l.Info("foo", "bar")
	assert.Zero(t, buf.Len())
}

func TestLoggerInfoJSON(t *testing.T) {
	c := NewConfig()
	c.LoggerEnabled = true
	l := NewLogger(c)

	buf := &bytes.Buffer{}
	l.Output = buf

	l.Info("foo", "bar")

	m := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "foobar", m["message"])
	assert.Equal(t, "INFO", m["level"])
}

func TestLoggerLevels(t *testing.T) {
	c := NewConfig()
	c.LoggerEnabled = true
	l := NewLogger(c)

	buf := &bytes.Buffer{}
	l.Output = buf

	l.Debugf("n=%d", 1)
	l.Warnj(map[string]interface{}{"x": 1})
	l.Errorf("boom: %s", "bad")

	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))
}

func TestLoggerWithFieldsJSON(t *testing.T) {
	c := NewConfig()
	c.LoggerEnabled = true
	l := NewLogger(c)

	buf := &bytes.Buffer{}
	l.Output = buf

	child := l.With(map[string]interface{}{"module": "./main.js"})
	child.Infof("loaded")

	m := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "loaded", m["message"])
	assert.Equal(t, "./main.js", m["module"])
	assert.Equal(t, "INFO", m["level"])
}

func TestLoggerWithFieldsMergeAndOverride(t *testing.T) {
	c := NewConfig()
	c.LoggerEnabled = true
	l := NewLogger(c)

	buf := &bytes.Buffer{}
	l.Output = buf

	base := l.With(map[string]interface{}{"module": "./main.js", "lang": "js"})
	grandchild := base.With(map[string]interface{}{"lang": "ts"})
	grandchild.Info("loaded")

	m := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "./main.js", m["module"])
	assert.Equal(t, "ts", m["lang"], "fields passed to a later With override the parent's")
}

func TestLoggerWithFieldsTextFormat(t *testing.T) {
	c := NewConfig()
	c.LoggerEnabled = true
	c.LogFormat = `[{{.level}}]`
	l := NewLogger(c)

	buf := &bytes.Buffer{}
	l.Output = buf

	child := l.With(map[string]interface{}{"remote_addr": "127.0.0.1:9000"})
	child.Warn("connection dropped")

	line := buf.String()
	assert.Contains(t, line, "[WARN] connection dropped")
	assert.Contains(t, line, "remote_addr=127.0.0.1:9000")
}

func TestLoggerWithSharesOutputMutex(t *testing.T) {
	c := NewConfig()
	c.LoggerEnabled = true
	l := NewLogger(c)

	buf := &bytes.Buffer{}
	l.Output = buf

	child := l.With(map[string]interface{}{"k": "v"})
	assert.Same(t, l.mutex, child.mutex, "child must share the parent's output mutex to avoid interleaved writes")
}
