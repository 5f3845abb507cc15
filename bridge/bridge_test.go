package bridge

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringify(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"string", "hello", "hello"},
		{"bytes", []byte("raw"), "raw"},
		{"bool", true, "true"},
		{"int", 42, "42"},
		{"negative int64", int64(-7), "-7"},
		{"integral float", float64(84), "84"},
		{"float", 3.141, "3.141"},
		{"big float", 1e21, "1e+21"},
		{"nan", math.NaN(), "NaN"},
		{"infinity", math.Inf(1), "Infinity"},
		{"negative infinity", math.Inf(-1), "-Infinity"},
		{"slice", []any{1, "a"}, `[1,"a"]`},
		{"map", map[string]any{"b": 2, "a": 1}, `{"a":1,"b":2}`},
		{"stringer", 2 * time.Second, "2s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Stringify(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringifyFailures(t *testing.T) {
	_, err := Stringify(nil)
	var convErr *ConversionError
	require.True(t, errors.As(err, &convErr))
	assert.Contains(t, err.Error(), "null or undefined")

	_, err = Stringify(func() {})
	assert.True(t, errors.As(err, &convErr))

	_, err = Stringify(struct{ A int }{1})
	assert.True(t, errors.As(err, &convErr))
}

func TestRecorderLastWriteWins(t *testing.T) {
	r := NewRecorder()

	_, found := r.Result()
	assert.False(t, found)

	require.NoError(t, r.SetResult("v1"))
	require.NoError(t, r.SetResult(2))

	res, found := r.Result()
	assert.True(t, found)
	assert.Equal(t, "2", res)
}

func TestRecorderLogs(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Print("out"))
	require.NoError(t, r.PrintErr("err"))
	require.NoError(t, r.Print(1.5))

	assert.Equal(t, []LogRecord{
		{Stream: Stdout, Text: "out\n"},
		{Stream: Stderr, Text: "err\n"},
		{Stream: Stdout, Text: "1.5\n"},
	}, r.Logs())
}

func TestRecorderConversionErrorKeepsState(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.SetResult("kept"))

	assert.Error(t, r.SetResult(nil))
	assert.Error(t, r.Print(nil))

	res, _ := r.Result()
	assert.Equal(t, "kept", res)
	assert.Empty(t, r.Logs())
}

func TestRecorderSealed(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.SetResult("before"))
	r.Seal()

	assert.NoError(t, r.SetResult("after"))
	assert.NoError(t, r.Print("after"))

	res, _ := r.Result()
	assert.Equal(t, "before", res)
	assert.Empty(t, r.Logs())
}

func TestEmitLogsTo(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&log.TextFormatter{DisableTimestamp: true})

	EmitLogsTo(logger, log.Fields{"script": "demo"}, []LogRecord{
		{Stream: Stdout, Text: "hello\n"},
		{Stream: Stderr, Text: "oops\n"},
	})

	out := buf.String()
	assert.Contains(t, out, `level=info msg=hello script=demo stream=stdout`)
	assert.Contains(t, out, `level=warning msg=oops script=demo stream=stderr`)
}
