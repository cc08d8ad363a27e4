package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"
	goopenai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/rs/zerolog/log"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/stream"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/pkg/types"
)

const (
	defaultSDKMaxTokens = 8192
	maxConversations    = 256
)

// SDKBackend runs prompts against a chat model and renders the reply as
// stream-json, so it is parsed exactly like CLI output.
type SDKBackend struct {
	model     model.BaseChatModel
	modelID   string
	maxTokens int
	prices    PriceTable

	mu      sync.Mutex
	history map[string][]*schema.Message
	order   []string
}

// NewSDKBackend builds the chat model for the configured provider.
func NewSDKBackend(ctx context.Context, cfg types.SDKConfig) (*SDKBackend, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = "anthropic"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultSDKMaxTokens
	}

	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "anthropic":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		modelID := cfg.Model
		if modelID == "" {
			modelID = "claude-sonnet-4-20250514"
		}
		cc := &claude.Config{APIKey: apiKey, Model: modelID, MaxTokens: maxTokens}
		if cfg.BaseURL != "" {
			cc.BaseURL = &cfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, cc)
		cfg.Model = modelID
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		modelID := cfg.Model
		if modelID == "" {
			modelID = "gpt-4o"
		}
		oc := &openai.ChatModelConfig{APIKey: apiKey, Model: modelID, MaxCompletionTokens: &maxTokens}
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		chatModel, err = openai.NewChatModel(ctx, oc)
		cfg.Model = modelID
	case "ark":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ARK_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ARK_API_KEY not set")
		}
		// Ark models are addressed by endpoint id; there is no default.
		modelID := cfg.Model
		if modelID == "" {
			modelID = os.Getenv("ARK_MODEL_ID")
		}
		if modelID == "" {
			return nil, fmt.Errorf("ARK_MODEL_ID not set")
		}
		ac := &ark.ChatModelConfig{APIKey: apiKey, Model: modelID, MaxTokens: &maxTokens}
		if cfg.BaseURL != "" {
			ac.BaseURL = cfg.BaseURL
		} else if baseURL := os.Getenv("ARK_BASE_URL"); baseURL != "" {
			ac.BaseURL = baseURL
		}
		chatModel, err = ark.NewChatModel(ctx, ac)
		cfg.Model = modelID
	default:
		return nil, fmt.Errorf("unknown SDK provider %q", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s chat model: %w", provider, err)
	}
	return NewSDKBackendWithModel(chatModel, cfg.Model, maxTokens), nil
}

// NewSDKBackendWithModel wraps an existing chat model.
func NewSDKBackendWithModel(chatModel model.BaseChatModel, modelID string, maxTokens int) *SDKBackend {
	if maxTokens <= 0 {
		maxTokens = defaultSDKMaxTokens
	}
	return &SDKBackend{
		model:     chatModel,
		modelID:   modelID,
		maxTokens: maxTokens,
		prices:    DefaultPrices,
		history:   make(map[string][]*schema.Message),
	}
}

func (b *SDKBackend) Kind() types.BackendKind { return types.BackendSDK }

// SetPrices replaces the price table.
func (b *SDKBackend) SetPrices(t PriceTable) { b.prices = t }

// Forget drops the conversation history kept for a backend session id.
func (b *SDKBackend) Forget(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.history[id]; !ok {
		return
	}
	delete(b.history, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// Execute streams one model reply into sink.
func (b *SDKBackend) Execute(ctx context.Context, req Request, sink func(Chunk)) Exit {
	if err := ctx.Err(); err != nil {
		return Exit{Reason: types.ReasonCancelled, Err: err}
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	sessionID := req.ResumeID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	modelID := b.modelID
	enc := stream.Encoder{SessionID: sessionID}
	logger := log.With().Str("backend", "sdk").Str("model", modelID).Str("session", sessionID).Logger()

	msgs := b.conversation(req.ResumeID)
	if len(msgs) == 0 && req.WorkDir != "" {
		msgs = append(msgs, schema.SystemMessage("Working directory: "+req.WorkDir))
	}
	msgs = append(msgs, schema.UserMessage(req.Prompt))

	reader, err := b.model.Stream(ctx, msgs, model.WithMaxTokens(b.maxTokens))
	if err != nil {
		logger.Warn().Err(err).Msg("stream request failed")
		return classifySDKError(ctx, err)
	}
	defer reader.Close()

	emit := func(data []byte) { sink(Chunk{Source: SourceStdout, Data: data}) }
	emit(enc.System(modelID))

	var (
		text   strings.Builder
		calls  []*pendingCall
		byKey  = make(map[string]*pendingCall)
		usage  stream.Usage
		finish string
	)
	for {
		msg, err := reader.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn().Err(err).Msg("stream interrupted")
			return classifySDKError(ctx, err)
		}
		if msg == nil {
			return Exit{Reason: types.ReasonMalformedOutput, Detail: "empty stream frame"}
		}

		if msg.Content != "" {
			text.WriteString(msg.Content)
			emit(enc.Text(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			key := tc.ID
			if tc.Index != nil {
				key = "#" + strconv.Itoa(*tc.Index)
			}
			pc, ok := byKey[key]
			if !ok {
				pc = &pendingCall{}
				byKey[key] = pc
				calls = append(calls, pc)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}
		if msg.ResponseMeta != nil {
			if u := msg.ResponseMeta.Usage; u != nil {
				usage.InputTokens = u.PromptTokens
				usage.OutputTokens = u.CompletionTokens
			}
			if msg.ResponseMeta.FinishReason != "" {
				finish = msg.ResponseMeta.FinishReason
			}
		}
	}

	assistant := schema.AssistantMessage(text.String(), nil)
	for _, pc := range calls {
		if pc.name == "" {
			return Exit{Reason: types.ReasonMalformedOutput, Detail: "tool call without name"}
		}
		input := map[string]any{}
		if raw := strings.TrimSpace(pc.args.String()); raw != "" {
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				return Exit{Reason: types.ReasonMalformedOutput, Detail: "tool call arguments for " + pc.name, Err: err}
			}
		}
		if pc.id == "" {
			pc.id = "call_" + uuid.NewString()
		}
		emit(enc.ToolUse(pc.id, pc.name, input))
		assistant.ToolCalls = append(assistant.ToolCalls, schema.ToolCall{
			ID:       pc.id,
			Type:     "function",
			Function: schema.FunctionCall{Name: pc.name, Arguments: pc.args.String()},
		})
	}

	cost := b.prices.Cost(modelID, usage.InputTokens, usage.OutputTokens)
	emit(enc.Result(text.String(), cost, &usage))
	b.remember(sessionID, append(msgs, assistant))

	logger.Debug().
		Str("finish", finish).
		Int("input_tokens", usage.InputTokens).
		Int("output_tokens", usage.OutputTokens).
		Float64("cost", cost).
		Msg("stream finished")
	return Exit{}
}

func (b *SDKBackend) conversation(id string) []*schema.Message {
	if id == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	prev := b.history[id]
	out := make([]*schema.Message, len(prev))
	copy(out, prev)
	return out
}

func (b *SDKBackend) remember(id string, msgs []*schema.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.history[id]; !ok {
		b.order = append(b.order, id)
		for len(b.order) > maxConversations {
			delete(b.history, b.order[0])
			b.order = b.order[1:]
		}
	}
	b.history[id] = msgs
}

// classifySDKError maps provider errors onto failure reasons. Auth, rate
// limit and server errors mean the backend is unavailable; other API errors
// are request failures.
func classifySDKError(ctx context.Context, err error) Exit {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return Exit{Reason: types.ReasonTimeout, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return Exit{Reason: types.ReasonCancelled, Err: err}
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return statusExit(apiErr.StatusCode, err)
	}

	// The eino openai model surfaces go-openai errors unchanged.
	var oaiErr *goopenai.APIError
	if errors.As(err, &oaiErr) {
		return statusExit(oaiErr.HTTPStatusCode, err)
	}
	var oaiReqErr *goopenai.RequestError
	if errors.As(err, &oaiReqErr) {
		return statusExit(oaiReqErr.HTTPStatusCode, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Exit{Reason: types.ReasonBackendUnavailable, Detail: "network", Err: err}
	}
	return Exit{Reason: types.ReasonProcessError, Err: err}
}

// statusExit classifies a provider HTTP status. Auth, quota and server
// errors make the backend unavailable; anything else is a request error.
func statusExit(status int, err error) Exit {
	detail := fmt.Sprintf("status %d", status)
	if status == 401 || status == 403 || status == 429 || status >= 500 {
		return Exit{Reason: types.ReasonBackendUnavailable, Detail: detail, Err: err}
	}
	return Exit{Reason: types.ReasonProcessError, Detail: detail, Err: err}
}
