package schemas

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyList_UnmarshalJSON(t *testing.T) {
	t.Run("accepts a single string", func(t *testing.T) {
		var k KeyList
		require.NoError(t, json.Unmarshal([]byte(`"ENTER"`), &k))
		assert.Equal(t, KeyList{"ENTER"}, k)
	})

	t.Run("accepts a list of strings", func(t *testing.T) {
		var k KeyList
		require.NoError(t, json.Unmarshal([]byte(`["ctrl+s", "ENTER"]`), &k))
		assert.Equal(t, KeyList{"ctrl+s", "ENTER"}, k)
	})

	t.Run("rejects other shapes", func(t *testing.T) {
		var k KeyList
		assert.Error(t, json.Unmarshal([]byte(`42`), &k))
	})
}

func TestBoundingBox_WireFormat(t *testing.T) {
	box := BoundingBox{X1: 10, Y1: 20, X2: 110, Y2: 60}

	data, err := json.Marshal(box)
	require.NoError(t, err)
	assert.JSONEq(t, `[10, 20, 110, 60]`, string(data))

	var decoded BoundingBox
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, box, decoded)

	x, y := box.Center()
	assert.Equal(t, 60, x)
	assert.Equal(t, 40, y)
}

func TestTaskStep_SettleDelay(t *testing.T) {
	assert.Equal(t, 100*time.Millisecond, TaskStep{}.SettleDelay())
	assert.Equal(t, 100*time.Millisecond, TaskStep{Delay: -1}.SettleDelay())
	assert.Equal(t, 1500*time.Millisecond, TaskStep{Delay: 1.5}.SettleDelay())
}

func TestActionTrace_NextEvent(t *testing.T) {
	trace := NewActionTrace("trace_abc", "hawk-20260826-test01")

	ev1 := trace.NextEvent("s1", StatusSuccess, 25*time.Millisecond, nil)
	ev2 := trace.NextEvent("s2", StatusRetry, 40*time.Millisecond, errors.New("target not found"))
	ev3 := trace.NextEvent("s2", StatusFailure, 41*time.Millisecond, errors.New("target not found"))

	assert.Equal(t, int64(1), ev1.EventID)
	assert.Equal(t, int64(2), ev2.EventID)
	assert.Equal(t, int64(3), ev3.EventID)
	assert.Len(t, trace.Events, 3)

	assert.Empty(t, ev1.Error)
	assert.Equal(t, "target not found", ev2.Error)
	assert.Equal(t, int64(25), ev1.LatencyMS)
}

func TestActionTrace_MarkCompleteOnce(t *testing.T) {
	trace := NewActionTrace("trace_abc", "hawk-20260826-test01")
	require.Nil(t, trace.CompletedAt)

	trace.MarkComplete()
	require.NotNil(t, trace.CompletedAt)
	first := *trace.CompletedAt

	time.Sleep(5 * time.Millisecond)
	trace.MarkComplete()
	assert.Equal(t, first, *trace.CompletedAt, "completion timestamp must not move on later calls")
}
