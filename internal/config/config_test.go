package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newTestViper(values map[string]any) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return v
}

func TestReadAppliesDefaults(t *testing.T) {
	cfg, err := Read(newTestViper(map[string]any{
		"DATABASE_URL":   "sqlite://kairos.db",
		"GOOGLE_API_KEY": "key",
	}))
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if cfg.HistoryLimit != 20 || cfg.InsightHistoryLimit != 10 {
		t.Fatalf("expected history limits 20/10, got %d/%d", cfg.HistoryLimit, cfg.InsightHistoryLimit)
	}
	if cfg.TopK != 5 {
		t.Fatalf("expected top k 5, got %d", cfg.TopK)
	}
	if cfg.ReplyMaxTokens != 500 {
		t.Fatalf("expected 500 max tokens, got %d", cfg.ReplyMaxTokens)
	}
	if cfg.GenerationTimeout != 60*time.Second {
		t.Fatalf("expected 60s timeout, got %s", cfg.GenerationTimeout)
	}
	if cfg.LLMAPIKey != "key" {
		t.Fatalf("expected gemini provider to reuse google key, got %q", cfg.LLMAPIKey)
	}
	if cfg.UtilityModel != cfg.LLMModel {
		t.Fatalf("expected utility model to default to llm model")
	}
	if cfg.DailyInsightSchedule != "0 2 * * *" {
		t.Fatalf("unexpected schedule %q", cfg.DailyInsightSchedule)
	}
}

func TestReadRejectsMissingRequired(t *testing.T) {
	_, err := Read(newTestViper(map[string]any{}))
	if err == nil {
		t.Fatalf("expected error for missing required fields")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL") || !strings.Contains(err.Error(), "GOOGLE_API_KEY") {
		t.Fatalf("expected both required keys in error, got %v", err)
	}
}

func TestReadRequiresKeyForOpenAICompatibleProviders(t *testing.T) {
	_, err := Read(newTestViper(map[string]any{
		"DATABASE_URL":   "sqlite://kairos.db",
		"GOOGLE_API_KEY": "key",
		"LLM_PROVIDER":   "xai",
	}))
	if err == nil || !strings.Contains(err.Error(), "LLM_API_KEY") {
		t.Fatalf("expected LLM_API_KEY error, got %v", err)
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" a:9092, ,b:9092 ")
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Fatalf("unexpected split result: %v", got)
	}
}
