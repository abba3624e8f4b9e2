// Package models 提供各家模型提供方的适配器实现。
package models

import (
	"context"
	"fmt"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

const (
	xaiBaseURL        = "https://api.x.ai/v1"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// New returns the model.LLM for provider (gemini, openai, xai, openrouter).
func New(ctx context.Context, provider, modelName, apiKey string) (model.LLM, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if modelName == "" {
		return nil, fmt.Errorf("model name cannot be empty")
	}

	switch provider {
	case "gemini":
		m, err := gemini.NewModel(ctx, modelName, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini model: %w", err)
		}
		return m, nil
	case "openai":
		return NewOpenAIModel(modelName, apiKey, "", "openai-go")
	case "xai":
		return NewOpenAIModel(modelName, apiKey, xaiBaseURL, "grok-go")
	case "openrouter":
		return NewOpenAIModel(modelName, apiKey, openRouterBaseURL, "openrouter-go")
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
}
