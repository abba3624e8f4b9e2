package media

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/adk/model"
	"google.golang.org/genai"

	"github.com/easeaico/project-kairos/internal/llm"
	"github.com/easeaico/project-kairos/internal/utils"
)

const (
	transcribePrompt = "Transcribe this audio recording accurately. Output only the transcription text, no additional commentary."
	describePrompt   = "Describe what you see in this image. If there is any text, transcribe it accurately."

	defaultAudioMIME = "audio/mp4"
	defaultImageMIME = "image/jpeg"
)

// Transcriber turns audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Describer turns an image into a short description.
type Describer interface {
	Describe(ctx context.Context, image []byte, mimeType string) (string, error)
}

// GeminiMedia transcribes audio and describes images with a multimodal model.
type GeminiMedia struct {
	model model.LLM
}

func NewGeminiMedia(m model.LLM) *GeminiMedia {
	return &GeminiMedia{model: m}
}

func (g *GeminiMedia) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = defaultAudioMIME
	}
	return g.ask(ctx, transcribePrompt, audio, mimeType)
}

func (g *GeminiMedia) Describe(ctx context.Context, image []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = defaultImageMIME
	}
	return g.ask(ctx, describePrompt, image, mimeType)
}

func (g *GeminiMedia) ask(ctx context.Context, instruction string, data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty media payload")
	}
	req := &model.LLMRequest{
		Contents: []*genai.Content{{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				genai.NewPartFromText(instruction),
				genai.NewPartFromBytes(data, mimeType),
			},
		}},
		Config: &genai.GenerateContentConfig{},
	}
	resp, err := llm.First(ctx, g.model, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(utils.ExtractContentText(resp.Content))
	if text == "" {
		return "", fmt.Errorf("model returned empty text")
	}
	return text, nil
}

// SpeechTranscriber uses Cloud Speech-to-Text synchronous recognition.
type SpeechTranscriber struct {
	client       *speech.Client
	languageCode string
}

func NewSpeechTranscriber(ctx context.Context, languageCode string) (*SpeechTranscriber, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	if languageCode == "" {
		languageCode = "en-US"
	}
	return &SpeechTranscriber{client: client, languageCode: languageCode}, nil
}

func (s *SpeechTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}
	resp, err := s.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			LanguageCode:               s.languageCode,
			Encoding:                   SpeechEncoding(mimeType),
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: audio}},
	})
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}
	var parts []string
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.GetAlternatives()[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("speech returned no transcript")
	}
	return strings.Join(parts, " "), nil
}

func (s *SpeechTranscriber) Close() error {
	return s.client.Close()
}

// SpeechEncoding infers the recognition encoding from a MIME type.
func SpeechEncoding(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	switch {
	case strings.Contains(m, "wav"):
		return speechpb.RecognitionConfig_LINEAR16
	case strings.Contains(m, "flac"):
		return speechpb.RecognitionConfig_FLAC
	case strings.Contains(m, "mp3") || strings.Contains(m, "mpeg"):
		return speechpb.RecognitionConfig_MP3
	case strings.Contains(m, "ogg") || strings.Contains(m, "opus"):
		return speechpb.RecognitionConfig_OGG_OPUS
	case strings.Contains(m, "webm"):
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
