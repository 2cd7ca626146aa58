package transport

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderRecordsBothDirections(t *testing.T) {
	agentOut := NewStream(strings.NewReader("{\"kind\":\"activation_success\"}\nnot json\n"), nil)
	var sent bytes.Buffer
	var trace bytes.Buffer

	rec := NewRecorder(agentOut, NewStream(nil, &sent), &trace)
	rec.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	require.NoError(t, rec.WriteLine([]byte(`{"kind":"state_update","new_id":"1","updates":[]}`)))
	line, err := rec.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"activation_success"}`, string(line))
	line, err = rec.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "not json", string(line))

	assert.Equal(t, "{\"kind\":\"state_update\",\"new_id\":\"1\",\"updates\":[]}\n", sent.String())

	entries, err := ReadTrace(&trace)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, DirectionSent, entries[0].Direction)
	assert.Equal(t, "2026-01-02T03:04:05Z", entries[0].Timestamp)
	assert.JSONEq(t, `{"kind":"state_update","new_id":"1","updates":[]}`, string(entries[0].Line()))

	assert.Equal(t, DirectionReceived, entries[1].Direction)
	assert.JSONEq(t, `{"kind":"activation_success"}`, string(entries[1].Line()))

	assert.Equal(t, DirectionReceived, entries[2].Direction)
	assert.Empty(t, entries[2].Message)
	assert.Equal(t, "not json", string(entries[2].Line()))
}

func TestParseTraceEntry(t *testing.T) {
	entry, ok := ParseTraceEntry([]byte(`{"timestamp":"t","direction":"received","message":{"kind":"metadata","dust_strings":[]}}`))
	require.True(t, ok)
	assert.Equal(t, DirectionReceived, entry.Direction)

	_, ok = ParseTraceEntry([]byte(`{"kind":"metadata","dust_strings":[]}`))
	assert.False(t, ok)

	_, ok = ParseTraceEntry([]byte(`not json`))
	assert.False(t, ok)
}

func TestReadTraceRejectsRawLines(t *testing.T) {
	_, err := ReadTrace(strings.NewReader("{\"kind\":\"metadata\"}\n"))
	assert.ErrorContains(t, err, "trace line 1")
}
