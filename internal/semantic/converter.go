package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatbi/chatbi/internal/llm"
	"github.com/chatbi/chatbi/internal/observability"
)

const noJSONError = "no JSON object found in model response"

// ConvertInput carries everything the prompt needs. PreviousUserText is set
// when continuing an existing conversation so the model can disambiguate
// follow-up questions.
type ConvertInput struct {
	UserText         string
	PreviousUserText string
	MetadataSummary  string
}

// Converter turns a user utterance into a Query via a single model call.
// Conversion never fails past this boundary: extraction and invocation
// errors degrade to an empty Query with the failure recorded in the debug
// trace of the most recent call.
type Converter struct {
	client llm.Client

	mu        sync.Mutex
	lastDebug map[string]any
}

func NewConverter(client llm.Client) *Converter {
	return &Converter{client: client, lastDebug: map[string]any{}}
}

func (c *Converter) Convert(ctx context.Context, in ConvertInput) *Query {
	debug := map[string]any{}
	defer c.setLastDebug(debug)

	prompt := buildPrompt(in)

	start := time.Now()
	answer, err := c.client.Generate(ctx, prompt)
	observability.ObserveModelCall(time.Since(start))
	if err != nil {
		debug["error"] = err.Error()
		return &Query{}
	}
	debug["raw_response"] = answer

	object, ok := extractJSONObject(answer)
	if !ok {
		debug["error"] = noJSONError
		observability.IncrementExtractionFailure()
		return &Query{}
	}

	var query Query
	if err := json.Unmarshal([]byte(object), &query); err != nil {
		debug["error"] = fmt.Sprintf("parse semantic query: %v", err)
		return &Query{}
	}
	return &query
}

// LastDebug returns the debug trace of the most recent Convert call. It is
// call-scoped, not conversation-scoped.
func (c *Converter) LastDebug() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make(map[string]any, len(c.lastDebug))
	for key, value := range c.lastDebug {
		copied[key] = value
	}
	return copied
}

func (c *Converter) setLastDebug(debug map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastDebug = debug
}

func buildPrompt(in ConvertInput) string {
	var b strings.Builder
	b.WriteString("You translate business questions into a JSON query description.\n")
	b.WriteString("Respond with a single JSON object using only these keys:\n")
	b.WriteString(`tables, columns, conditions [{column, operator, value}], aggregations [{function, column, alias}], joins [{type, table1, table2, condition}], order_by [{column, direction}], group_by, limit.`)
	b.WriteString("\nAllowed aggregation functions: SUM, AVG, COUNT, MIN, MAX.\n")
	if strings.TrimSpace(in.MetadataSummary) != "" {
		b.WriteString("\nDatabase schema:\n")
		b.WriteString(in.MetadataSummary)
		b.WriteString("\n")
	}
	if strings.TrimSpace(in.PreviousUserText) != "" {
		b.WriteString("\nThis continues an earlier exchange. The previous question was: \"")
		b.WriteString(in.PreviousUserText)
		b.WriteString("\"\n")
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(in.UserText)
	return b.String()
}

// extractJSONObject returns the first balanced JSON object substring of a
// free-form model answer, which may wrap the object in explanatory prose or
// a code fence.
func extractJSONObject(answer string) (string, bool) {
	for start := 0; start < len(answer); start++ {
		offset := strings.IndexByte(answer[start:], '{')
		if offset < 0 {
			return "", false
		}
		start += offset

		if candidate, ok := balancedObjectAt(answer, start); ok {
			return candidate, true
		}
	}
	return "", false
}

func balancedObjectAt(answer string, start int) (string, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(answer); i++ {
		ch := answer[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := answer[start : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, true
				}
				return "", false
			}
		}
	}
	return "", false
}
