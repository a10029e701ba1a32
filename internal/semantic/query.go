package semantic

import "strings"

// Query is the structured intermediate representation a model response is
// parsed into. Field keys follow the wire format the model is prompted to
// produce. Any field may be empty without invalidating the others; an empty
// Tables slice means no query could be derived from the question.
type Query struct {
	Tables       []string      `json:"tables,omitempty"`
	Columns      []string      `json:"columns,omitempty"`
	Conditions   []Condition   `json:"conditions,omitempty"`
	Aggregations []Aggregation `json:"aggregations,omitempty"`
	Joins        []Join        `json:"joins,omitempty"`
	OrderBy      []OrderClause `json:"order_by,omitempty"`
	GroupBy      []string      `json:"group_by,omitempty"`
	Limit        *int          `json:"limit,omitempty"`
}

type Condition struct {
	Column   string `json:"column"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

type Aggregation struct {
	Function string `json:"function"`
	Column   string `json:"column"`
	Alias    string `json:"alias,omitempty"`
}

type Join struct {
	Type  string `json:"type"`
	Left  string `json:"table1"`
	Right string `json:"table2"`
	On    string `json:"condition"`
}

type OrderClause struct {
	Column    string `json:"column"`
	Direction string `json:"direction"`
}

var allowedAggregations = map[string]struct{}{
	"SUM":   {},
	"AVG":   {},
	"COUNT": {},
	"MIN":   {},
	"MAX":   {},
}

// Validate reports structural correctness: every condition needs a column,
// an operator and a present value, and every aggregation function must be
// one of the five allowed. Populated clauses are otherwise accepted as-is;
// schema conformance is not checked here.
func Validate(q *Query) bool {
	if q == nil {
		return false
	}
	for _, cond := range q.Conditions {
		if strings.TrimSpace(cond.Column) == "" || strings.TrimSpace(cond.Operator) == "" {
			return false
		}
		if cond.Value == nil {
			return false
		}
	}
	for _, agg := range q.Aggregations {
		if _, ok := allowedAggregations[strings.ToUpper(strings.TrimSpace(agg.Function))]; !ok {
			return false
		}
	}
	return true
}

// IsEmpty reports whether no tables were derived, the signal that the
// pipeline has nothing to generate SQL from.
func (q *Query) IsEmpty() bool {
	return q == nil || len(q.Tables) == 0
}
