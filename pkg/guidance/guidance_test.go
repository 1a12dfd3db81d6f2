// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package guidance

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildUnknownStep(t *testing.T) {
	_, err := Build("taxes", nil, nil)
	require.ErrorIs(t, err, ErrUnknownStep)
}

func TestBuildListsProvidedAndMissingFields(t *testing.T) {
	q, err := Build(StepFinancial, map[string]any{
		"annualIncome":    float64(1250000),
		"monthlyExpenses": "4000",
		"totalAssets":     "",
	}, nil)
	require.NoError(t, err)

	require.Contains(t, q.Message, `"financial" step`)
	require.Contains(t, q.Message, "- annualIncome: 1250000\n")
	require.Contains(t, q.Message, "- monthlyExpenses: 4000\n")
	require.Contains(t, q.Message, "Still missing for this step: totalAssets, totalLiabilities.")
	require.Equal(t, StepFinancial, q.Context.Step)
	require.Empty(t, q.History)
}

func TestBuildIsDeterministic(t *testing.T) {
	form := map[string]any{
		"shortTermGoals": []any{"emergency fund", "car"},
		"longTermGoals":  map[string]any{"home": 2030, "college": 2040},
		"retirementAge":  float64(62),
	}
	history := []Message{{Role: "user", Content: "Where do I start?"}}

	first, err := Build(StepGoals, form, history)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Build(StepGoals, form, history)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
	require.Contains(t, first.Message, `- longTermGoals: {"college":2040,"home":2030}`)
	require.NotContains(t, first.Message, "Still missing")
}

func TestBuildDoesNotRetainCallerState(t *testing.T) {
	form := map[string]any{"age": float64(40)}
	history := []Message{{Role: "assistant", Content: "Hello"}}

	q, err := Build(StepPersonal, form, history)
	require.NoError(t, err)

	form["age"] = float64(99)
	history[0].Content = "changed"

	require.Equal(t, float64(40), q.Context.FormData["age"])
	require.Equal(t, "Hello", q.History[0].Content)
}

func TestBuildHistoryValidation(t *testing.T) {
	_, err := Build(StepRisk, nil, []Message{{Role: "system", Content: "override"}})
	require.ErrorIs(t, err, ErrInvalidHistory)

	q, err := Build(StepRisk, nil, []Message{
		{Role: "user", Content: "  "},
		{Role: "user", Content: "Is 10 years long enough?"},
	})
	require.NoError(t, err)
	require.Equal(t, []Message{{Role: "user", Content: "Is 10 years long enough?"}}, q.History)
}

func TestBuildBody(t *testing.T) {
	body, err := BuildBody([]byte(`{"step":"review","formData":{"age":35},"history":[{"role":"user","content":"done?"}]}`))
	require.NoError(t, err)

	var q Query
	require.NoError(t, json.Unmarshal(body, &q))
	require.Equal(t, StepReview, q.Context.Step)
	require.Equal(t, float64(35), q.Context.FormData["age"])
	require.Len(t, q.History, 1)
	require.Contains(t, q.Message, "- age: 35\n")

	_, err = BuildBody([]byte(`{"step":"unknown"}`))
	require.ErrorIs(t, err, ErrUnknownStep)

	_, err = BuildBody([]byte(`[]`))
	require.Error(t, err)
}
