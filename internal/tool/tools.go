// Package tool 提供绑定到单个用户与会话的助手工具。
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/easeaico/project-kairos/internal/types"
)

const (
	GetDate                     = "getDate"
	GetUserProfile              = "getUserProfile"
	GetRecentInsights           = "getRecentInsights"
	GetConversationTopicSummary = "getConversationTopicSummary"
	GetUserConfig               = "getUserConfig"

	defaultInsightLimit = 5
	defaultTopicCount   = 10
	maxToolLimit        = 50
)

type ProfileSource interface {
	GetProfile(ctx context.Context, ownerID string) (*types.UserProfile, error)
	GetPreferences(ctx context.Context, ownerID string) (types.UserPreferences, error)
}

type InsightSource interface {
	ListForThread(ctx context.Context, ownerID, threadID string, limit int) ([]types.Insight, error)
	ListOwnerLevel(ctx context.Context, ownerID string, limit int) ([]types.Insight, error)
}

type MessageSource interface {
	ListRecent(ctx context.Context, ownerID, threadID, excludeID string, limit int) ([]types.Message, error)
}

// Registry holds the data sources shared by every toolset.
type Registry struct {
	profiles ProfileSource
	insights InsightSource
	messages MessageSource
	cache    Cache
	now      func() time.Time
}

func NewRegistry(profiles ProfileSource, insights InsightSource, messages MessageSource, cache Cache) *Registry {
	return &Registry{
		profiles: profiles,
		insights: insights,
		messages: messages,
		cache:    cache,
		now:      time.Now,
	}
}

// Toolset is the five tools bound to one owner and thread. The model never
// supplies identities.
type Toolset struct {
	reg      *Registry
	ownerID  string
	threadID string
}

// Bind scopes the tools to ownerID and threadID.
func (r *Registry) Bind(ownerID, threadID string) *Toolset {
	return &Toolset{reg: r, ownerID: ownerID, threadID: threadID}
}

// Invalidate drops cached results for the owner and thread.
func (r *Registry) Invalidate(ctx context.Context, ownerID, threadID string) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.InvalidatePrefix(ctx, CachePrefix(ownerID, threadID))
}

// Declarations returns the function declarations offered to the model.
func (t *Toolset) Declarations() []*genai.FunctionDeclaration {
	return []*genai.FunctionDeclaration{
		{
			Name:                 GetDate,
			Description:          "Returns the current date and time. Use this when the user asks about the current date, day of week, or time.",
			ParametersJsonSchema: &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}},
		},
		{
			Name:                 GetUserProfile,
			Description:          "Returns the user's profile: name, age, country, goals and interests. Use this to personalize responses.",
			ParametersJsonSchema: &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}},
		},
		{
			Name:        GetRecentInsights,
			Description: "Returns recent insights for this conversation and across conversations, including mood, emotion and themes.",
			ParametersJsonSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"limit": {Type: "integer", Description: "Number of insights to return (default 5)"},
				},
			},
		},
		{
			Name:        GetConversationTopicSummary,
			Description: "Returns a brief summary of recent topics in the current conversation.",
			ParametersJsonSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"messageCount": {Type: "integer", Description: "Number of recent messages to look at (default 10)"},
				},
			},
		},
		{
			Name:                 GetUserConfig,
			Description:          "Returns the user's app preferences such as preferred tone and language.",
			ParametersJsonSchema: &jsonschema.Schema{Type: "object", Properties: map[string]*jsonschema.Schema{}},
		},
	}
}

// Tool returns the declarations wrapped as a genai tool.
func (t *Toolset) Tool() *genai.Tool {
	return &genai.Tool{FunctionDeclarations: t.Declarations()}
}

// Call runs the named tool and returns its JSON object result.
func (t *Toolset) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	var (
		result    any
		err       error
		cacheable bool
	)
	if cached, ok := t.cached(ctx, name); ok {
		return cached, nil
	}

	switch name {
	case GetDate:
		result = t.date()
	case GetUserProfile:
		result, err = t.profile(ctx)
		cacheable = true
	case GetRecentInsights:
		result, err = t.recentInsights(ctx, intArg(args, "limit", defaultInsightLimit))
	case GetConversationTopicSummary:
		result, err = t.topicSummary(ctx, intArg(args, "messageCount", defaultTopicCount))
	case GetUserConfig:
		result, err = t.config(ctx)
		cacheable = true
	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to run tool %s: %w", name, err)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool %s result: %w", name, err)
	}
	if cacheable && t.reg.cache != nil {
		t.reg.cache.Set(ctx, CacheKey(t.ownerID, t.threadID, name), raw)
	}
	return decodeObject(raw)
}

func (t *Toolset) cached(ctx context.Context, name string) (map[string]any, bool) {
	if t.reg.cache == nil || (name != GetUserProfile && name != GetUserConfig) {
		return nil, false
	}
	raw, ok := t.reg.cache.Get(ctx, CacheKey(t.ownerID, t.threadID, name))
	if !ok {
		return nil, false
	}
	out, err := decodeObject(raw)
	if err != nil {
		slog.Warn("dropping undecodable tool cache entry", "tool", name, "error", err.Error())
		return nil, false
	}
	return out, true
}

func decodeObject(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}
	return out, nil
}

type dateResult struct {
	Timestamp string `json:"timestamp"`
	Date      string `json:"date"`
	Time      string `json:"time"`
	DayOfWeek string `json:"dayOfWeek"`
	Timezone  string `json:"timezone"`
}

func (t *Toolset) date() dateResult {
	now := t.reg.now().UTC()
	return dateResult{
		Timestamp: now.Format(time.RFC3339),
		Date:      now.Format(time.DateOnly),
		Time:      now.Format(time.TimeOnly),
		DayOfWeek: now.Weekday().String(),
		Timezone:  "UTC",
	}
}

type profileResult struct {
	Name            *string  `json:"name"`
	Age             *int     `json:"age"`
	DateOfBirth     *string  `json:"dateOfBirth"`
	Country         *string  `json:"country"`
	Gender          *string  `json:"gender"`
	MainGoal        *string  `json:"mainGoal"`
	Interests       []string `json:"interests"`
	ExperienceLevel *string  `json:"experienceLevel"`
}

func (t *Toolset) profile(ctx context.Context) (profileResult, error) {
	out := profileResult{Interests: []string{}}
	p, err := t.reg.profiles.GetProfile(ctx, t.ownerID)
	if err != nil {
		return out, err
	}
	if p == nil || p.IsDeleted {
		return out, nil
	}
	out.Name = optional(p.Name)
	out.Age = p.Age(t.reg.now().UTC())
	if p.DateOfBirth != nil {
		out.DateOfBirth = types.StringPtr(p.DateOfBirth.UTC().Format(time.DateOnly))
	}
	out.Country = optional(p.Country)
	out.Gender = optional(p.Gender)
	out.MainGoal = optional(p.MainGoal)
	if len(p.Interests) > 0 {
		out.Interests = p.Interests
	}
	out.ExperienceLevel = optional(p.ExperienceLevel)
	return out, nil
}

type insightView struct {
	Summary         string   `json:"summary"`
	MoodScore       float64  `json:"moodScore"`
	DominantEmotion string   `json:"dominantEmotion"`
	Keywords        []string `json:"keywords"`
	Themes          []string `json:"themes"`
	Period          string   `json:"period"`
}

type insightsResult struct {
	ThreadInsights []insightView `json:"threadInsights"`
	GlobalInsights []insightView `json:"globalInsights"`
}

func (t *Toolset) recentInsights(ctx context.Context, limit int) (insightsResult, error) {
	out := insightsResult{ThreadInsights: []insightView{}, GlobalInsights: []insightView{}}
	if t.threadID != "" {
		thread, err := t.reg.insights.ListForThread(ctx, t.ownerID, t.threadID, limit)
		if err != nil {
			return out, err
		}
		out.ThreadInsights = viewInsights(thread)
	}
	global, err := t.reg.insights.ListOwnerLevel(ctx, t.ownerID, limit)
	if err != nil {
		return out, err
	}
	out.GlobalInsights = viewInsights(global)
	return out, nil
}

func viewInsights(insights []types.Insight) []insightView {
	views := make([]insightView, 0, len(insights))
	for _, in := range insights {
		period := in.Period
		if period == "" {
			period = "unknown"
		}
		views = append(views, insightView{
			Summary:         in.Summary,
			MoodScore:       in.MoodScore,
			DominantEmotion: in.DominantEmotion.String(),
			Keywords:        nonNil(in.Keywords),
			Themes:          nonNil(in.Themes),
			Period:          period,
		})
	}
	return views
}

type topicResult struct {
	Summary      string   `json:"summary"`
	MessageCount int      `json:"messageCount"`
	Topics       []string `json:"topics"`
}

func (t *Toolset) topicSummary(ctx context.Context, count int) (topicResult, error) {
	messages, err := t.reg.messages.ListRecent(ctx, t.ownerID, t.threadID, "", count)
	if err != nil {
		return topicResult{}, err
	}
	if len(messages) == 0 {
		return topicResult{Summary: "No recent messages in this conversation.", Topics: []string{}}, nil
	}
	texts := make([]string, 0, len(messages))
	for i := range messages {
		text := messages[i].Text()
		if text == "" {
			text = "[media content]"
		}
		texts = append(texts, text)
	}
	summary := fmt.Sprintf("Conversation includes: %s", strings.Join(texts, ". "))
	if len(texts) > 3 {
		summary = fmt.Sprintf("Recent conversation covers %d messages discussing various topics.", len(texts))
	}
	return topicResult{Summary: summary, MessageCount: len(texts), Topics: []string{}}, nil
}

type configResult struct {
	PreferredTone        string `json:"preferredTone"`
	Language             string `json:"language"`
	NotificationsEnabled bool   `json:"notificationsEnabled"`
}

func (t *Toolset) config(ctx context.Context) (configResult, error) {
	prefs, err := t.reg.profiles.GetPreferences(ctx, t.ownerID)
	if err != nil {
		return configResult{}, err
	}
	return configResult{
		PreferredTone:        prefs.PreferredTone,
		Language:             prefs.Language,
		NotificationsEnabled: prefs.NotificationsEnabled,
	}, nil
}

// intArg reads a positive integer argument. JSON numbers arrive as float64.
func intArg(args map[string]any, key string, def int) int {
	var n int
	switch v := args[key].(type) {
	case float64:
		n = int(v)
	case int:
		n = v
	case int64:
		n = int(v)
	case json.Number:
		i, _ := v.Int64()
		n = int(i)
	}
	if n <= 0 {
		return def
	}
	return min(n, maxToolLimit)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
