// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	frerr "github.com/sigil-dev/freeroute/pkg/errors"
)

// DefaultBaseURL is OpenRouter's OpenAI-compatible API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Attribution headers OpenRouter uses for its app rankings.
const (
	DefaultReferer = "https://github.com/sigil-dev/freeroute"
	DefaultTitle   = "freeroute"
)

// Role names accepted in a Message.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallOptions carries the optional sampling parameters of one call.
type CallOptions struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   int
	Stop        []string
}

// Completion is the result of a non-streaming chat completion.
type Completion struct {
	ID               string
	Model            string // model that served the call, as reported upstream
	Content          string
	FinishReason     string
	PromptTokens     int64
	CompletionTokens int64
	Raw              *openaisdk.ChatCompletion
}

// ServedModel reports the upstream's effective model id.
func (c *Completion) ServedModel() string {
	if c == nil {
		return ""
	}
	return c.Model
}

// ChatConfig configures a ChatClient.
type ChatConfig struct {
	APIKey     string
	BaseURL    string // optional, defaults to DefaultBaseURL
	Timeout    time.Duration
	Referer    string
	Title      string
	HTTPClient *http.Client // optional
}

// ChatClient performs single chat-completion calls through the OpenAI SDK.
// SDK-level retries are disabled; failover owns retrying.
type ChatClient struct {
	client openaisdk.Client
}

// NewChatClient creates a ChatClient. Returns an error if the API key is missing.
func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, frerr.New(frerr.CodeConfigValidateInvalidValue, "upstream: missing api key")
	}

	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	referer, title := cfg.Referer, cfg.Title
	if referer == "" {
		referer = DefaultReferer
	}
	if title == "" {
		title = DefaultTitle
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(base),
		option.WithMaxRetries(0),
		option.WithHeaderDel("OpenAI-Organization"),
		option.WithHeaderDel("OpenAI-Project"),
		option.WithHeader("HTTP-Referer", referer),
		option.WithHeader("X-Title", title),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &ChatClient{client: openaisdk.NewClient(opts...)}, nil
}

// Complete sends one chat completion for model.
func (c *ChatClient) Complete(ctx context.Context, model string, msgs []Message, opts CallOptions) (*Completion, error) {
	params, err := buildParams(model, msgs, opts)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifySDKError(err, model)
	}
	if len(resp.Choices) == 0 {
		return nil, frerr.New(frerr.CodeUpstreamResponseInvalid, "upstream returned no choices",
			frerr.FieldModel(model))
	}

	choice := resp.Choices[0]
	return &Completion{
		ID:               resp.ID,
		Model:            resp.Model,
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Raw:              resp,
	}, nil
}

func buildParams(model string, msgs []Message, opts CallOptions) (openaisdk.ChatCompletionNewParams, error) {
	converted, err := convertMessages(msgs)
	if err != nil {
		return openaisdk.ChatCompletionNewParams{}, err
	}

	params := openaisdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: converted,
	}
	if opts.Temperature != nil {
		params.Temperature = param.NewOpt(*opts.Temperature)
	}
	if opts.TopP != nil {
		params.TopP = param.NewOpt(*opts.TopP)
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	if len(opts.Stop) > 0 {
		params.Stop = openaisdk.ChatCompletionNewParamsStopUnion{
			OfStringArray: opts.Stop,
		}
	}
	return params, nil
}

func convertMessages(msgs []Message) ([]openaisdk.ChatCompletionMessageParamUnion, error) {
	if len(msgs) == 0 {
		return nil, frerr.New(frerr.CodeUpstreamRequestInvalid, "upstream: at least one message is required")
	}

	out := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			out = append(out, openaisdk.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openaisdk.UserMessage(m.Content))
		case RoleAssistant:
			out = append(out, openaisdk.AssistantMessage(m.Content))
		default:
			return nil, frerr.Errorf(frerr.CodeUpstreamRequestInvalid, "upstream: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

// classifySDKError maps SDK failures onto RateLimitError or a coded
// upstream failure.
func classifySDKError(err error, model string) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		body := apiErr.RawJSON()
		if body == "" {
			body = apiErr.Message
		}
		if IsRateLimitBody(apiErr.StatusCode, body) {
			return &RateLimitError{StatusCode: apiErr.StatusCode, Body: body, Err: err}
		}
		return frerr.Wrap(err, frerr.CodeUpstreamRequestFailure,
			fmt.Sprintf("upstream returned status %d", apiErr.StatusCode), frerr.FieldModel(model))
	}
	return frerr.Wrap(err, frerr.CodeUpstreamRequestFailure, "upstream request failed", frerr.FieldModel(model))
}
