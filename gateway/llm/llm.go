// Package llm wraps the OpenAI chat-completions API behind the two
// primitives the engine needs: free-form Chat for summarization/replies,
// and a typed Classify for the evaluator's structured JSON output
// (spec.md §4.4/§4.8).
package llm

import (
	"context"
	"encoding/json"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	domain "github.com/AzielCF/az-wap/store/domain"

	pkgerrors "github.com/AzielCF/az-wap/pkg/errors"
)

// modelByTier maps the abstract tier a tenant's LLMConfig selects to a
// concrete OpenAI model string.
var modelByTier = map[domain.LLMModelTier]string{
	domain.ModelFast:     "gpt-4o-mini",
	domain.ModelAccurate: "gpt-4o",
	domain.ModelExtended: "gpt-4.1",
}

func resolveModel(tier domain.LLMModelTier) string {
	if m, ok := modelByTier[tier]; ok {
		return m
	}
	return modelByTier[domain.ModelAccurate]
}

func (c *Client) clientOptions() []option.RequestOption {
	return append([]option.RequestOption{option.WithAPIKey(c.apiKey)}, c.opts...)
}

// Client issues chat completions against a single tenant's API key.
type Client struct {
	apiKey string
	opts   []option.RequestOption
}

// New builds a Client for apiKey. Extra request options (e.g.
// option.WithBaseURL, for pointing tests at a fake server) are applied
// to every call this Client makes.
func New(apiKey string, opts ...option.RequestOption) *Client {
	return &Client{apiKey: apiKey, opts: opts}
}

// ChatRequest is a single-shot completion call: a system prompt plus a
// flattened turn history, no tool-calling (spec.md Non-goals exclude
// function-calling/agentic tool use from this surface).
type ChatRequest struct {
	SystemPrompt string
	History      []ChatTurn
	Model        domain.LLMModelTier
	Temperature  float64
	MaxTokens    int
}

type ChatTurn struct {
	Role string // "user" or "assistant"
	Text string
}

// Chat surfaces ErrLLM on any provider failure; callers that can't
// tolerate a hard failure (classify) should not call this directly.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if c.apiKey == "" {
		return "", pkgerrors.ErrCryptoNotReady
	}

	client := openai.NewClient(c.clientOptions()...)

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, t := range req.History {
		if t.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(t.Text))
		} else {
			messages = append(messages, openai.UserMessage(t.Text))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(resolveModel(req.Model)),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		logrus.WithError(err).Warn("[LLM] chat completion failed")
		return "", &pkgerrors.GatewayError{Kind: pkgerrors.ErrLLM, Message: "chat completion failed"}
	}
	if len(completion.Choices) == 0 {
		return "", &pkgerrors.GatewayError{Kind: pkgerrors.ErrLLM, Message: "empty completion"}
	}
	return completion.Choices[0].Message.Content, nil
}

// ClassifyStatus is the classifier's verdict before the evaluator maps
// it onto Conversation.status (CLOSE here, CLOSED there — spec.md §4.8).
type ClassifyStatus string

const (
	ClassifyContinue      ClassifyStatus = "CONTINUE"
	ClassifyScheduleLater ClassifyStatus = "SCHEDULE_LATER"
	ClassifyClose         ClassifyStatus = "CLOSE"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
	SentimentUnknown  Sentiment = "unknown"
)

type Engagement string

const (
	EngagementHigh    Engagement = "high"
	EngagementMedium  Engagement = "medium"
	EngagementLow     Engagement = "low"
	EngagementUnknown Engagement = "unknown"
)

// Evaluation is the classifier's typed verdict (spec.md §4.4). Zero
// value is not the safe default — use safeDefaultEvaluation().
type Evaluation struct {
	Status          ClassifyStatus `json:"status"`
	Confidence      float64        `json:"confidence"`
	Reasoning       string         `json:"reasoning"`
	ClientSentiment Sentiment      `json:"client_sentiment"`
	Engagement      Engagement     `json:"engagement_level"`
	SuggestedTiming string         `json:"suggested_timing,omitempty"`
}

func safeDefaultEvaluation() Evaluation {
	return Evaluation{
		Status:          ClassifyContinue,
		Confidence:      0.5,
		Reasoning:       "evaluation failed, defaulting to continue",
		ClientSentiment: SentimentUnknown,
		Engagement:      EngagementUnknown,
	}
}

var evaluationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"status": map[string]any{
			"type": "string",
			"enum": []string{"CONTINUE", "SCHEDULE_LATER", "CLOSE"},
		},
		"confidence": map[string]any{"type": "number"},
		"reasoning":  map[string]any{"type": "string"},
		"client_sentiment": map[string]any{
			"type": "string",
			"enum": []string{"positive", "neutral", "negative", "unknown"},
		},
		"engagement_level": map[string]any{
			"type": "string",
			"enum": []string{"high", "medium", "low", "unknown"},
		},
		"suggested_timing": map[string]any{"type": "string"},
	},
	"required":             []string{"status", "confidence", "reasoning", "client_sentiment", "engagement_level", "suggested_timing"},
	"additionalProperties": false,
}

// Classify asks the model to judge where a conversation should go next.
// Per spec.md §4.8/§9, a malformed or failed call never surfaces an
// error here: it degrades to a safe CONTINUE default so the evaluator
// sweep always makes forward progress.
func (c *Client) Classify(ctx context.Context, systemPrompt, transcript string, model domain.LLMModelTier) Evaluation {
	if c.apiKey == "" {
		return safeDefaultEvaluation()
	}

	client := openai.NewClient(c.clientOptions()...)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(resolveModel(model)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(transcript),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "conversation_evaluation",
					Schema: any(evaluationSchema),
					Strict: openai.Bool(true),
				},
			},
		},
	}

	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		logrus.WithError(err).Warn("[LLM] classify call failed, degrading to safe default")
		return safeDefaultEvaluation()
	}
	if len(completion.Choices) == 0 {
		logrus.Warn("[LLM] classify returned no choices, degrading to safe default")
		return safeDefaultEvaluation()
	}

	var eval Evaluation
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &eval); err != nil {
		logrus.WithError(err).Warn("[LLM] classify returned malformed JSON, degrading to safe default")
		return safeDefaultEvaluation()
	}
	if !validClassifyStatus(eval.Status) {
		logrus.Warnf("[LLM] classify returned unrecognized status %q, degrading to safe default", eval.Status)
		return safeDefaultEvaluation()
	}
	return eval
}

func validClassifyStatus(s ClassifyStatus) bool {
	switch s {
	case ClassifyContinue, ClassifyScheduleLater, ClassifyClose:
		return true
	default:
		return false
	}
}
