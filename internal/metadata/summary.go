package metadata

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// summaryRule tags a column for the prompt digest. Rules are data: adding a
// heuristic means adding a row, not a branch.
type summaryRule struct {
	tag         string
	namePattern *regexp.Regexp
	typePattern *regexp.Regexp
}

var summaryRules = []summaryRule{
	{tag: "key", namePattern: regexp.MustCompile(`(?i)(^id$|_id$)`)},
	{tag: "time", typePattern: regexp.MustCompile(`(?i)(date|time|timestamp)`)},
	{tag: "user", namePattern: regexp.MustCompile(`(?i)(user|customer|account|owner|email)`)},
	{tag: "money", namePattern: regexp.MustCompile(`(?i)(amount|price|total|revenue|cost)`)},
}

func (r summaryRule) matches(column Column) bool {
	if r.namePattern != nil && r.namePattern.MatchString(column.Name) {
		return true
	}
	if r.typePattern != nil && r.typePattern.MatchString(column.Type) {
		return true
	}
	return false
}

// SummarizeForPrompt renders the tree as a line-per-table digest: column
// names with type, heuristic tags, and one representative sample value when
// available. Tables are emitted in sorted order so prompts are stable.
func SummarizeForPrompt(tree Tree) string {
	names := make([]string, 0, len(tree.Tables))
	for name := range tree.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		table := tree.Tables[name]
		b.WriteString(name)
		if table.Comment != "" {
			b.WriteString(" (")
			b.WriteString(table.Comment)
			b.WriteString(")")
		}
		b.WriteString(": ")

		parts := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			parts = append(parts, summarizeColumn(column, table.SampleRows))
		}
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func summarizeColumn(column Column, samples []map[string]any) string {
	part := column.Name + " " + column.Type

	tags := make([]string, 0, 2)
	for _, rule := range summaryRules {
		if rule.matches(column) {
			tags = append(tags, rule.tag)
		}
	}
	if len(tags) > 0 {
		part += " [" + strings.Join(tags, ",") + "]"
	}

	if sample, ok := sampleValue(column.Name, samples); ok {
		part += fmt.Sprintf(" e.g. %v", sample)
	}
	return part
}

func sampleValue(column string, samples []map[string]any) (any, bool) {
	for _, row := range samples {
		if value, ok := row[column]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}
