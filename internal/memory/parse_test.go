package memory

import (
	"testing"

	"github.com/easeaico/project-kairos/internal/types"
)

func TestParseFactsCapsAtFive(t *testing.T) {
	text := "1. User runs every morning\n2) User lives in Lisbon now\n- User has two young kids\n* User is learning Portuguese\n5. User works in finance\n6. User drinks green tea daily"
	got := ParseFacts(text)
	if len(got) != MaxFacts {
		t.Fatalf("expected %d facts, got %d", MaxFacts, len(got))
	}
	if got[1] != "User lives in Lisbon now" || got[3] != "User is learning Portuguese" {
		t.Fatalf("expected prefixes stripped, got %q", got)
	}
}

func TestParseCategories(t *testing.T) {
	cases := []struct {
		in   string
		want []types.Category
	}{
		{"career_growth", []types.Category{types.CategoryCareer}},
		{" Health_Lifestyle , health_lifestyle, purpose_values", []types.Category{types.CategoryHealth, types.CategoryPurpose}},
		{"unknown, sports", nil},
		{"mindset_wellbeing, productivity_focus, career_growth", []types.Category{types.CategoryMindset, types.CategoryProductivity}},
	}
	for _, tc := range cases {
		got := ParseCategories(tc.in)
		if len(got) != len(tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.in, tc.want, got)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%q: expected %v, got %v", tc.in, tc.want, got)
			}
		}
	}
}

func TestPointIDStable(t *testing.T) {
	a := PointID("u1_daily_123")
	if a != PointID("u1_daily_123") {
		t.Fatalf("expected deterministic point id")
	}
	uuidID := "0b8f0f8e-6f3c-4c8e-9a43-7b3a1f3b8a11"
	if PointID(uuidID) != uuidID {
		t.Fatalf("expected uuid ids to pass through")
	}
}
