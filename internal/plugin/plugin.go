// Package plugin defines the extension points of the advisory server.
// The core imports these interfaces; concrete plugins implement them and
// are wired through the registry. The core never imports implementations.
package plugin

import (
	"context"
	"time"

	"github.com/advisord/advisord/pkg/models"
)

// Registry kinds.
const (
	KindEventBus    = "event_bus"
	KindMarketData  = "market_data"
	KindInput       = "input"
	KindOutput      = "output"
	KindLLM         = "llm"
	KindAgent       = "agent"
	KindRiskRule    = "risk_rule"
	KindTaskHandler = "task_handler"
)

// Kinds lists every registrable capability kind.
var Kinds = []string{
	KindEventBus, KindMarketData, KindInput, KindOutput,
	KindLLM, KindAgent, KindRiskRule, KindTaskHandler,
}

// EventBus is the publish/subscribe fabric all components communicate over.
type EventBus interface {
	Publish(ctx context.Context, event models.Event) error
	Subscribe(eventType string, handler func(ctx context.Context, event models.Event))
}

// MarketDataProvider fetches market data for tickers it supports. Multiple
// providers can be active at once; tickers are routed via Supports.
type MarketDataProvider interface {
	Name() string
	Fetch(ctx context.Context, tickers []string, start, end time.Time) ([]models.MarketData, error)
	Supports(ticker string) bool
}

// InputAdapter receives data from an external source and pushes payloads
// into the system. The core wraps each payload in an integration.input event.
type InputAdapter interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	OnMessage(callback func(ctx context.Context, payload map[string]any))
}

// DeliveryResult is the outcome of one OutputAdapter.Send call.
type DeliveryResult struct {
	Success bool
	Adapter string
	Message string
}

// OutputAdapter delivers signals and notifications to an external
// destination such as a Telegram chat.
type OutputAdapter interface {
	Name() string
	Send(ctx context.Context, signal *models.Signal, memo *models.InvestmentMemo) DeliveryResult
	SendText(ctx context.Context, channelID, text string) DeliveryResult
}

// ChatMessage is the canonical conversation message exchanged with LLM
// providers. Each provider translates it to its own wire format.
type ChatMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

// ContentPart is one piece of a multi-part message (text or image).
type ContentPart struct {
	Type     string `json:"type"` // text, image_url
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDef describes one callable tool in provider-neutral form.
// Parameters is a JSON Schema object.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCallResult is what an LLMProvider returns from ToolCall.
type ToolCallResult struct {
	Text      string         `json:"text"`
	ToolCalls []ToolCall     `json:"tool_calls,omitempty"`
	Usage     map[string]int `json:"usage,omitempty"`
}

// HasToolCalls reports whether the model requested any tool invocations.
func (r ToolCallResult) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// LLMProvider abstracts language model API calls.
type LLMProvider interface {
	Name() string
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	ToolCall(ctx context.Context, messages []ChatMessage, tools []ToolDef) (ToolCallResult, error)
}

// AgentOutput is the structured product of one analysis agent.
type AgentOutput struct {
	AgentName          string   `json:"agent_name"`
	Analysis           string   `json:"analysis"`
	Confidence         float64  `json:"confidence"`
	SuggestedDirection string   `json:"suggested_direction,omitempty"`
	KeyFactors         []string `json:"key_factors,omitempty"`
}

// AIAgent is a self-contained analysis unit in the orchestrator pipeline.
type AIAgent interface {
	Name() string
	Description() string
	Analyze(ctx context.Context, pack *models.ContextPack) (AgentOutput, error)
}

// RiskRule evaluates one proposed signal against one policy. Rules must be
// deterministic and fast: no LLM calls, no network I/O.
type RiskRule interface {
	Name() string
	Evaluate(signal *models.Signal, portfolio *models.PortfolioSummary) models.RuleEvaluation
}

// TaskHandler executes one kind of scheduled task, looked up by name when
// a task fires.
type TaskHandler interface {
	Name() string
	Run(ctx context.Context, params map[string]any) (models.TaskResult, error)
}

// ToolProvider is an optional hook: plugins implementing it contribute
// tools and prompt instructions to the AI interface.
type ToolProvider interface {
	GetTools() []ToolDef
	CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error)
	GetPromptInstructions() string
}
