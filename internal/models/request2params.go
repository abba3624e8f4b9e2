package models

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go/v3"
	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

// buildOpenAIParams converts ADK request to OpenAI parameters
func buildOpenAIParams(req *model.LLMRequest, modelName string) *openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
	}
	if req.Model == "" {
		params.Model = modelName
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.Config != nil && req.Config.SystemInstruction != nil {
		if text := contentText(req.Config.SystemInstruction); text != "" {
			messages = append(messages, openai.SystemMessage(text))
		}
	}
	messages = append(messages, convertContentsToMessages(req.Contents)...)
	if len(messages) > 0 {
		params.Messages = messages
	}

	if req.Config != nil {
		if req.Config.Temperature != nil {
			params.Temperature = openai.Float(float64(*req.Config.Temperature))
		}
		if req.Config.MaxOutputTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.Config.MaxOutputTokens))
		}
		if req.Config.TopP != nil {
			params.TopP = openai.Float(float64(*req.Config.TopP))
		}
		if req.Config.ResponseMIMEType == "application/json" {
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
			}
		}
		if tools := convertToolsToOpenAI(req.Config.Tools); len(tools) > 0 {
			params.Tools = tools
		}
	}

	return &params
}

// convertToolsToOpenAI converts function declarations to OpenAI tools.
func convertToolsToOpenAI(toolsList []*genai.Tool) []openai.ChatCompletionToolUnionParam {
	var tools []openai.ChatCompletionToolUnionParam
	for _, t := range toolsList {
		if t == nil {
			continue
		}
		for _, fn := range t.FunctionDeclarations {
			tools = append(tools, openai.ChatCompletionToolUnionParam{
				OfFunction: &openai.ChatCompletionFunctionToolParam{
					Function: openai.FunctionDefinitionParam{
						Name:        fn.Name,
						Description: openai.String(fn.Description),
						Parameters:  convertFunctionParameters(fn),
					},
				},
			})
		}
	}
	return tools
}

// convertFunctionParameters renders the declaration's JSON schema as a
// parameters object. Declarations without a schema take no arguments.
func convertFunctionParameters(fn *genai.FunctionDeclaration) openai.FunctionParameters {
	params := map[string]any{}
	switch schema := fn.ParametersJsonSchema.(type) {
	case *jsonschema.Schema:
		raw, err := json.Marshal(schema)
		if err != nil {
			slog.Error("failed to marshal tool schema", "tool", fn.Name, "error", err.Error())
			break
		}
		if err := json.Unmarshal(raw, &params); err != nil {
			slog.Error("failed to decode tool schema", "tool", fn.Name, "error", err.Error())
		}
	case map[string]any:
		params = schema
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	if _, ok := params["properties"]; !ok {
		params["properties"] = map[string]any{}
	}
	if _, ok := params["required"]; !ok {
		params["required"] = []string{}
	}
	return openai.FunctionParameters(params)
}

// convertContentsToMessages converts genai.Content to OpenAI messages
func convertContentsToMessages(contents []*genai.Content) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	for _, content := range contents {
		if content == nil {
			continue
		}

		// 工具结果转换为 tool 消息
		if hasFunctionResponse(content) {
			for _, part := range content.Parts {
				if part == nil || part.FunctionResponse == nil || part.FunctionResponse.ID == "" {
					continue
				}
				payload, err := json.Marshal(part.FunctionResponse.Response)
				if err != nil {
					slog.Error("failed to marshal function response", "error", err.Error())
					continue
				}
				messages = append(messages, openai.ToolMessage(string(payload), part.FunctionResponse.ID))
			}
			continue
		}

		text := contentText(content)
		switch content.Role {
		case genai.RoleModel:
			messages = append(messages, assistantMessage(content, text))
		case "system":
			messages = append(messages, openai.SystemMessage(text))
		default:
			messages = append(messages, userMessage(content, text))
		}
	}

	return messages
}

func hasFunctionResponse(content *genai.Content) bool {
	for _, part := range content.Parts {
		if part != nil && part.FunctionResponse != nil && part.FunctionResponse.ID != "" {
			return true
		}
	}
	return false
}

// assistantMessage keeps tool calls so following tool messages stay paired.
func assistantMessage(content *genai.Content, text string) openai.ChatCompletionMessageParamUnion {
	var calls []openai.ChatCompletionMessageToolCallUnionParam
	for _, part := range content.Parts {
		if part == nil || part.FunctionCall == nil {
			continue
		}
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			args = []byte("{}")
		}
		calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: part.FunctionCall.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			},
		})
	}
	if len(calls) == 0 {
		return openai.AssistantMessage(text)
	}
	assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
	if text != "" {
		assistant.Content.OfString = openai.String(text)
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

// userMessage attaches inline images as data URLs.
func userMessage(content *genai.Content, text string) openai.ChatCompletionMessageParamUnion {
	var images []openai.ChatCompletionContentPartUnionParam
	for _, part := range content.Parts {
		if part == nil || part.InlineData == nil || !strings.HasPrefix(part.InlineData.MIMEType, "image/") {
			continue
		}
		url := fmt.Sprintf("data:%s;base64,%s", part.InlineData.MIMEType, base64.StdEncoding.EncodeToString(part.InlineData.Data))
		images = append(images, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}))
	}
	if len(images) == 0 {
		return openai.UserMessage(text)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	if text != "" {
		parts = append(parts, openai.TextContentPart(text))
	}
	parts = append(parts, images...)
	return openai.UserMessage(parts)
}

func contentText(content *genai.Content) string {
	if content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
