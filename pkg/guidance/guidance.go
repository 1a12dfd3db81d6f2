// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package guidance builds the backend query for the wealth-profile
// questionnaire. Build is a pure function of the current step, the form data
// collected so far and the conversation history the caller passes in; nothing
// is remembered between calls.
package guidance

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Step names a page of the wealth-profile questionnaire.
type Step string

const (
	StepPersonal  Step = "personal"
	StepFinancial Step = "financial"
	StepGoals     Step = "goals"
	StepRisk      Step = "risk"
	StepReview    Step = "review"
)

var (
	// ErrUnknownStep is returned for a step outside the questionnaire.
	ErrUnknownStep = errors.New("unknown guidance step")
	// ErrInvalidHistory is returned when a history message has an unusable role.
	ErrInvalidHistory = errors.New("invalid history message")
)

type stepDef struct {
	title  string
	focus  string
	fields []string
}

var steps = map[Step]stepDef{
	StepPersonal: {
		title:  "Personal information",
		focus:  "Help the client describe their household and life stage. Explain why each detail matters for planning.",
		fields: []string{"age", "maritalStatus", "dependents", "occupation"},
	},
	StepFinancial: {
		title:  "Financial situation",
		focus:  "Help the client summarise income, expenses, assets and liabilities. Point out gaps or inconsistencies in the figures.",
		fields: []string{"annualIncome", "monthlyExpenses", "totalAssets", "totalLiabilities"},
	},
	StepGoals: {
		title:  "Financial goals",
		focus:  "Help the client turn their goals into specific, time-bound targets and rank them by priority.",
		fields: []string{"shortTermGoals", "longTermGoals", "retirementAge"},
	},
	StepRisk: {
		title:  "Risk tolerance",
		focus:  "Explain the trade-off between risk and return and help the client choose a tolerance consistent with their horizon.",
		fields: []string{"riskTolerance", "investmentHorizon", "investmentExperience"},
	},
	StepReview: {
		title:  "Profile review",
		focus:  "Review the whole profile, highlight anything missing or contradictory and suggest next steps.",
		fields: nil,
	},
}

// Message is one turn of the conversation, owned by the caller.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the inbound body of the guidance endpoint.
type Request struct {
	Step     Step           `json:"step"`
	FormData map[string]any `json:"formData"`
	History  []Message      `json:"history"`
}

// Query is the chat payload sent to the backend.
type Query struct {
	Message string    `json:"message"`
	History []Message `json:"history"`
	Context Context   `json:"context"`
}

// Context echoes the questionnaire state alongside the prompt.
type Context struct {
	Step     Step           `json:"step"`
	FormData map[string]any `json:"formData"`
}

// Build returns the guidance query for step. The same input always yields
// the same query, and history is copied rather than retained.
func Build(step Step, formData map[string]any, history []Message) (Query, error) {
	def, ok := steps[step]
	if !ok {
		return Query{}, fmt.Errorf("%w: %q", ErrUnknownStep, step)
	}

	hist := make([]Message, 0, len(history))
	for i, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			return Query{}, fmt.Errorf("%w: entry %d has role %q", ErrInvalidHistory, i, m.Role)
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		hist = append(hist, m)
	}

	form := make(map[string]any, len(formData))
	for k, v := range formData {
		form[k] = v
	}

	return Query{
		Message: prompt(step, def, form),
		History: hist,
		Context: Context{Step: step, FormData: form},
	}, nil
}

// BuildBody decodes a Request and encodes the resulting Query, for use as a
// relay body builder.
func BuildBody(raw []byte) ([]byte, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("decode guidance request: %w", err)
	}

	q, err := Build(req.Step, req.FormData, req.History)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode guidance query: %w", err)
	}
	return body, nil
}

func prompt(step Step, def stepDef, form map[string]any) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are guiding a client through the %q step of a wealth profile (%s).\n", step, def.title)
	b.WriteString(def.focus)
	b.WriteString("\n")

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if len(keys) > 0 {
		b.WriteString("\nInformation provided so far:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, formatValue(form[k]))
		}
	}

	var missing []string
	for _, f := range def.fields {
		if isBlank(form[f]) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "\nStill missing for this step: %s. Ask for these one at a time.\n", strings.Join(missing, ", "))
	}

	b.WriteString("\nKeep the answer short, practical and free of product recommendations.")
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "(empty)"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		// encoding/json sorts map keys, which keeps the prompt stable.
		out, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(out)
	default:
		return fmt.Sprint(val)
	}
}

func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	default:
		return false
	}
}
