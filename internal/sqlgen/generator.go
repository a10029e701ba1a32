package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chatbi/chatbi/internal/semantic"
)

const (
	noTablesStatement = "SELECT 1; -- No tables specified"
	generationError   = "Error generating SQL"
)

// Generate renders a semantic query into SQL text. It is pure and never
// returns an error: a nil query or an unexpected clause shape renders as a
// string containing "Error generating SQL" so callers can log or display it
// safely. Values are single-quoted when non-numeric and not escaped further;
// the output is display/execution text, not an injection barrier.
func Generate(q *semantic.Query) (out string) {
	defer func() {
		if recover() != nil {
			out = generationError
		}
	}()

	if q == nil {
		return generationError
	}
	if len(q.Tables) == 0 {
		return noTablesStatement
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectList(q))
	b.WriteString(" FROM ")
	b.WriteString(q.Tables[0])

	for _, join := range q.Joins {
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(join.Type))
		b.WriteString(" JOIN ")
		b.WriteString(join.Right)
		b.WriteString(" ON ")
		b.WriteString(join.On)
	}

	if len(q.Conditions) > 0 {
		fragments := make([]string, 0, len(q.Conditions))
		for _, cond := range q.Conditions {
			fragments = append(fragments, renderCondition(cond))
		}
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(fragments, " AND "))
	}

	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(q.GroupBy, ", "))
	}

	if len(q.OrderBy) > 0 {
		clauses := make([]string, 0, len(q.OrderBy))
		for _, order := range q.OrderBy {
			clauses = append(clauses, order.Column+" "+strings.ToUpper(order.Direction))
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(clauses, ", "))
	}

	if q.Limit != nil {
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(*q.Limit))
	}

	return b.String()
}

// selectList renders columns first, then any aggregation the model did not
// already spell out as a column expression. Models frequently emit an
// aggregate in both fields; the column form wins.
func selectList(q *semantic.Query) string {
	parts := make([]string, 0, len(q.Columns)+len(q.Aggregations))
	parts = append(parts, q.Columns...)
	for _, agg := range q.Aggregations {
		bare := strings.ToUpper(agg.Function) + "(" + agg.Column + ")"
		expr := bare
		if agg.Alias != "" {
			expr += " AS " + agg.Alias
		}
		if columnsContain(q.Columns, expr) || columnsContain(q.Columns, bare) {
			continue
		}
		parts = append(parts, expr)
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ", ")
}

func columnsContain(columns []string, expr string) bool {
	for _, column := range columns {
		if strings.EqualFold(strings.TrimSpace(column), expr) {
			return true
		}
	}
	return false
}

func renderCondition(cond semantic.Condition) string {
	switch strings.ToUpper(strings.TrimSpace(cond.Operator)) {
	case "IN":
		values := valueList(cond.Value)
		rendered := make([]string, 0, len(values))
		for _, value := range values {
			rendered = append(rendered, renderValue(value))
		}
		return cond.Column + " IN (" + strings.Join(rendered, ", ") + ")"
	case "BETWEEN":
		bounds := valueList(cond.Value)
		return cond.Column + " BETWEEN " + renderValue(bounds[0]) + " AND " + renderValue(bounds[1])
	default:
		return cond.Column + " " + cond.Operator + " " + renderValue(cond.Value)
	}
}

// valueList widens the JSON shapes a condition value can arrive in. A panic
// on anything else is caught by Generate's recover.
func valueList(value any) []any {
	switch typed := value.(type) {
	case []any:
		return typed
	case []string:
		widened := make([]any, len(typed))
		for i, item := range typed {
			widened[i] = item
		}
		return widened
	default:
		return []any{value}
	}
}

func renderValue(value any) string {
	if value == nil {
		panic("condition value is nil")
	}
	text := fmt.Sprintf("%v", value)
	if isNumeric(value, text) {
		return text
	}
	return "'" + text + "'"
}

func isNumeric(value any, text string) bool {
	switch value.(type) {
	case int, int32, int64, float32, float64:
		return true
	}
	_, err := strconv.ParseFloat(text, 64)
	return err == nil
}
