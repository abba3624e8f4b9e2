package utils

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSONObject extracts the outermost {...} from raw model output and
// decodes it into T. Code fences and surrounding prose are ignored.
func ParseJSONObject[T any](raw string) (T, error) {
	var out T
	clean := strings.TrimSpace(raw)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start < 0 || end <= start {
		return out, fmt.Errorf("no JSON object in model output")
	}
	clean = clean[start : end+1]

	if err := json.Unmarshal([]byte(clean), &out); err != nil {
		return out, fmt.Errorf("failed to parse model output: %w", err)
	}
	return out, nil
}
