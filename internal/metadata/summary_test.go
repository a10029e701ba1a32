package metadata

import (
	"strings"
	"testing"
)

func TestSummarizeForPromptTagsAndSamples(t *testing.T) {
	tree := Tree{
		Host:     "db.internal",
		Database: "shop",
		Tables: map[string]Table{
			"orders": {
				Comment: "order fact table",
				Columns: []Column{
					{Name: "id", Type: "bigint"},
					{Name: "customer_id", Type: "bigint"},
					{Name: "amount", Type: "numeric"},
					{Name: "created_at", Type: "timestamp without time zone"},
				},
				SampleRows: []map[string]any{
					{"id": int64(1), "customer_id": int64(7), "amount": "19.90", "created_at": "2024-01-01"},
				},
			},
		},
	}

	summary := SummarizeForPrompt(tree)

	if !strings.Contains(summary, "orders (order fact table):") {
		t.Fatalf("summary = %q", summary)
	}
	if !strings.Contains(summary, "id bigint [key] e.g. 1") {
		t.Fatalf("summary missing key tag: %q", summary)
	}
	if !strings.Contains(summary, "customer_id bigint [key,user]") {
		t.Fatalf("summary missing combined tags: %q", summary)
	}
	if !strings.Contains(summary, "created_at timestamp without time zone [time]") {
		t.Fatalf("summary missing time tag: %q", summary)
	}
	if !strings.Contains(summary, "amount numeric [money] e.g. 19.90") {
		t.Fatalf("summary missing money tag: %q", summary)
	}
}

func TestSummarizeForPromptStableOrder(t *testing.T) {
	tree := Tree{
		Tables: map[string]Table{
			"zebra":  {Columns: []Column{{Name: "id", Type: "bigint"}}},
			"alpha":  {Columns: []Column{{Name: "id", Type: "bigint"}}},
			"middle": {Columns: []Column{{Name: "id", Type: "bigint"}}},
		},
	}

	summary := SummarizeForPrompt(tree)
	lines := strings.Split(summary, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %v", lines)
	}
	if !strings.HasPrefix(lines[0], "alpha") || !strings.HasPrefix(lines[1], "middle") || !strings.HasPrefix(lines[2], "zebra") {
		t.Fatalf("tables not sorted: %v", lines)
	}
}

func TestSummarizeForPromptEmptyTree(t *testing.T) {
	if got := SummarizeForPrompt(Tree{}); got != "" {
		t.Fatalf("SummarizeForPrompt() = %q", got)
	}
}
