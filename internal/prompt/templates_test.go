package prompt

import (
	"strings"
	"testing"

	"github.com/easeaico/project-kairos/internal/types"
)

func TestClassificationListsAllCategories(t *testing.T) {
	out, err := Classification("I ran 5k today")
	if err != nil {
		t.Fatalf("Classification returned error: %v", err)
	}
	for _, c := range types.Categories {
		if !strings.Contains(out, string(c)+": "+c.Description()) {
			t.Fatalf("expected category %s in prompt", c)
		}
	}
	if !strings.Contains(out, "6. purpose_values") {
		t.Fatalf("expected 1-based numbering, got %s", out)
	}
	if !strings.Contains(out, "Memory: I ran 5k today") {
		t.Fatalf("expected fact in prompt")
	}
}

func TestCategoryInsightNumbersMemories(t *testing.T) {
	out, err := CategoryInsight(types.CategoryCareer, []string{"first", "second"})
	if err != nil {
		t.Fatalf("CategoryInsight returned error: %v", err)
	}
	if !strings.Contains(out, `"career growth"`) {
		t.Fatalf("expected readable category name")
	}
	if !strings.Contains(out, "1. first\n2. second") {
		t.Fatalf("expected numbered memories, got %s", out)
	}
}

func TestExtractionIncludesExchange(t *testing.T) {
	out, err := Extraction("I got a new job", "Congratulations!")
	if err != nil {
		t.Fatalf("Extraction returned error: %v", err)
	}
	if !strings.Contains(out, "User: I got a new job") || !strings.Contains(out, "Assistant: Congratulations!") {
		t.Fatalf("expected exchange in prompt")
	}
}
