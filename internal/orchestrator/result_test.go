package orchestrator

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/deepwork/internal/errs"
	"github.com/zjrosen/deepwork/internal/tasks/domain"
)

func TestResult_SuccessJSON(t *testing.T) {
	r := succeed(domain.Subtask{ID: "s1", Title: "outline"}, []string{"note"}, Metadata{
		Cached:         true,
		Source:         SourceCache,
		ExecutionTime:  1500 * time.Microsecond,
		Complexity:     domain.ComplexityLow,
		ValidationTime: 0,
	})

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, true, got["success"])
	require.NotContains(t, got, "error")
	require.Equal(t, []any{"note"}, got["warnings"])
	require.Equal(t, "outline", got["data"].(map[string]any)["title"])

	meta := got["metadata"].(map[string]any)
	require.Equal(t, true, meta["cached"])
	require.Equal(t, "cache", meta["source"])
	require.InDelta(t, 1.5, meta["executionTimeMs"], 0.0001)
	require.NotContains(t, meta, "validationTimeMs")
}

func TestResult_FailureJSONHidesDiagnostics(t *testing.T) {
	opErr := &errs.OpError{
		Kind:         errs.KindBusinessLogic,
		BusinessKind: errs.ConcurrencyLimit,
		UserMessage:  "Maximum concurrent sessions (3) reached",
		Context:      errs.NewContext("StartTask", "deep-work", "t1"),
	}
	r := fail[domain.Task](opErr, nil, Metadata{Source: SourceNone})

	_, ok := r.Data()
	require.False(t, ok)
	_, err := r.Unwrap()
	require.ErrorIs(t, err, errs.ErrConcurrencyLimit)

	raw, err := json.Marshal(r)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, false, got["success"])
	require.NotContains(t, got, "data")
	e := got["error"].(map[string]any)
	require.Equal(t, "business_logic", e["kind"])
	require.Equal(t, "concurrency_limit", e["rule"])
	require.Equal(t, "Maximum concurrent sessions (3) reached", e["message"])
	require.NotContains(t, string(raw), "StartTask")
}
