package llm

import (
	"bytes"
	"context"
	"strings"

	"github.com/RichardoC/tablechat/internal/models"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"
)

const DefaultSystemPrompt = `You are a data assistant with access to SQL databases.
Use the table_query_engine and describe_tables tools to find the tables that
hold the data, then use load_data to run read-only SQL queries against them.
Answer in plain language and mention the numbers you found.`

var (
	ErrNoChoices     = errors.New("model returned no choices")
	ErrTooManyRounds = errors.New("agent did not produce an answer within the round limit")
)

// StreamFunc receives the answer text as the model produces it.
type StreamFunc func(ctx context.Context, chunk []byte) error

type Options struct {
	SystemPrompt string
	MaxRounds    int
	SearchK      int
}

func (o Options) withDefaults() Options {
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
	if o.MaxRounds <= 0 {
		o.MaxRounds = 6
	}
	if o.SearchK <= 0 {
		o.SearchK = 3
	}
	return o
}

// NewModel connects to an OpenAI-compatible chat endpoint.
func NewModel(baseURL, token, model string) (llms.Model, error) {
	m, err := openai.New(
		openai.WithToken(token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, errors.Wrap(err, "initialize openai client")
	}
	return m, nil
}

// Agent answers chat messages with a function-calling loop over its tools.
type Agent struct {
	model  llms.Model
	tools  map[string]Tool
	defs   []llms.Tool
	opts   Options
	logger *zap.Logger
}

func NewAgent(model llms.Model, toolList []Tool, opts Options, logger *zap.Logger) *Agent {
	a := &Agent{
		model:  model,
		tools:  make(map[string]Tool, len(toolList)),
		opts:   opts.withDefaults(),
		logger: logger,
	}
	for _, t := range toolList {
		a.tools[t.Name()] = t
		a.defs = append(a.defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return a
}

func (a *Agent) ToolNames() []string {
	names := make([]string, 0, len(a.defs))
	for _, d := range a.defs {
		names = append(names, d.Function.Name)
	}
	return names
}

// StreamChat answers input given the earlier messages of the conversation.
// Answer text is passed to onChunk as it arrives; the full answer is
// returned once the model stops calling tools. Text the model writes
// alongside tool calls is part of the answer, so the returned string is
// what was streamed.
func (a *Agent) StreamChat(ctx context.Context, history []models.Message, input string, onChunk StreamFunc) (string, error) {
	msgs := make([]llms.MessageContent, 0, len(history)+2)
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, a.opts.SystemPrompt))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, m.Content))
		case models.RoleAssistant:
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeAI, m.Content))
		}
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, input))

	var callOpts []llms.CallOption
	if len(a.defs) > 0 {
		callOpts = append(callOpts, llms.WithTools(a.defs))
	}
	if onChunk != nil {
		callOpts = append(callOpts, llms.WithStreamingFunc(answerChunks(onChunk)))
	}

	var answer strings.Builder
	for round := 0; round < a.opts.MaxRounds; round++ {
		resp, err := a.model.GenerateContent(ctx, msgs, callOpts...)
		if err != nil {
			return "", errors.Wrap(err, "generate content")
		}
		if len(resp.Choices) == 0 {
			return "", ErrNoChoices
		}
		choice := resp.Choices[0]
		answer.WriteString(choice.Content)

		if len(choice.ToolCalls) == 0 {
			a.logger.Debug("Agent finished", zap.Int("rounds", round+1))
			return answer.String(), nil
		}

		call := llms.MessageContent{Role: llms.ChatMessageTypeAI}
		if choice.Content != "" {
			call.Parts = append(call.Parts, llms.TextContent{Text: choice.Content})
		}
		seen := make(map[string]bool, len(choice.ToolCalls))
		var calls []llms.ToolCall
		for _, tc := range choice.ToolCalls {
			// Some models repeat a tool call id within one response.
			if seen[tc.ID] || tc.FunctionCall == nil {
				continue
			}
			seen[tc.ID] = true
			calls = append(calls, tc)
			call.Parts = append(call.Parts, tc)
		}
		msgs = append(msgs, call)

		for _, tc := range calls {
			msgs = append(msgs, llms.MessageContent{
				Role: llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{
					ToolCallID: tc.ID,
					Name:       tc.FunctionCall.Name,
					Content:    a.callTool(ctx, tc.FunctionCall.Name, tc.FunctionCall.Arguments),
				}},
			})
		}
	}
	return "", ErrTooManyRounds
}

// callTool runs a tool and turns failures into text for the model, so a
// bad query can be corrected on the next round.
func (a *Agent) callTool(ctx context.Context, name, args string) string {
	a.logger.Info("Agent tool call", zap.String("tool", name), zap.String("input", args))
	t, ok := a.tools[name]
	if !ok {
		return "Unknown tool: " + name
	}
	out, err := t.Call(ctx, args)
	if err != nil {
		a.logger.Warn("Agent tool failed", zap.String("tool", name), zap.Error(err))
		return "Error: " + err.Error()
	}
	return out
}

// answerChunks drops streamed tool-call deltas, which langchaingo's openai
// client passes to the streaming func as JSON arrays.
func answerChunks(fn StreamFunc) func(ctx context.Context, chunk []byte) error {
	return func(ctx context.Context, chunk []byte) error {
		trimmed := bytes.TrimSpace(chunk)
		if bytes.HasPrefix(trimmed, []byte(`[{`)) && bytes.Contains(trimmed, []byte(`"function"`)) {
			return nil
		}
		if len(chunk) == 0 {
			return nil
		}
		return fn(ctx, chunk)
	}
}
