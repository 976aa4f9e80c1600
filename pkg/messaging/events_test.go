package messaging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	data := AnalysisCompletedEvent{JobID: "job-1", Mode: "async", Verdict: "fraudulent", Attempts: 3}

	event, err := NewEvent(EventAnalysisCompleted, "boleto-gateway", "req-9", data)
	require.NoError(t, err)

	_, err = uuid.Parse(event.ID)
	assert.NoError(t, err)
	assert.Equal(t, EventAnalysisCompleted, event.Type)
	assert.Equal(t, "boleto-gateway", event.Source)
	assert.Equal(t, "req-9", event.CorrelationID)
	assert.False(t, event.Timestamp.IsZero())

	var decoded AnalysisCompletedEvent
	require.NoError(t, json.Unmarshal(event.Data, &decoded))
	assert.Equal(t, data, decoded)
}

func TestNewEvent_UniqueIDs(t *testing.T) {
	a, err := NewEvent(EventAnalysisFailed, "s", "", AnalysisFailedEvent{JobID: "a"})
	require.NoError(t, err)
	b, err := NewEvent(EventAnalysisFailed, "s", "", AnalysisFailedEvent{JobID: "a"})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewEvent_UnmarshalableData(t *testing.T) {
	_, err := NewEvent(EventAnalysisFailed, "s", "", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestCorrelationID(t *testing.T) {
	assert.Empty(t, CorrelationID(context.Background()))
	ctx := WithCorrelationID(context.Background(), "abc")
	assert.Equal(t, "abc", CorrelationID(ctx))
}
