// Package engine implements the conversational AI interface. It receives
// raw user messages from any integration, lets the LLM understand intent
// through tool-calling, executes the requested actions, and returns a
// text response. The LLM does the understanding; there is no keyword
// matching and no language restriction.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/portfolio"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/scheduler"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
)

// maxToolRounds bounds the tool-call loop for a single user turn.
const maxToolRounds = 25

const systemPrompt = `You are the AI assistant for advisord, a trading advisory system.

You help the user manage their trading activity. You can:
- Record trades they've made (confirm_trade, close_position, user_initiated_trade)
- Record trades they've skipped (skip_trade)
- Show portfolio state (get_portfolio)
- Look up prices (get_price)
- Manage scheduled tasks (list_tasks, list_task_handlers, create_task, delete_task)
- View learning memories (get_memories)
- Trigger analysis (run_analysis)
- Show recent signals (get_signals)

IMPORTANT RULES:
- When the user tells you about a trade they made, use the appropriate tool to record it.
- When they ask about their portfolio or positions, use get_portfolio.
- When they want to skip a signal, use skip_trade and record their reason.
- You understand ANY language. Parse the user's intent regardless of what language they write in.
- Be concise in responses. Don't over-explain.
- If you're unsure what the user wants, ask for clarification.
- Always confirm back what action you took after executing a tool.`

const scheduledRider = `

This is a SCHEDULED run, not a live conversation. Execute the instruction
below using your tools and produce a single final report. Do not ask the
user questions; there is nobody to answer them.`

const noProviderMessage = "No AI provider configured. Please set up an LLM provider in config.yaml."
const llmFailedMessage = "Sorry, I couldn't process that right now. Please try again."

// Interface is the conversational controller. One instance serves all
// channels; processing is serialized per channel and parallel across
// channels.
type Interface struct {
	registry        *registry.Registry
	store           *store.Store
	bus             *bus.Bus
	portfolio       *portfolio.Tracker
	scheduler       *scheduler.Scheduler
	defaultProvider string
	log             *zap.Logger

	historyMu sync.Mutex
	history   map[string][]plugin.ChatMessage

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates the interface, loads persisted conversation history, and
// subscribes to integration input events.
func New(b *bus.Bus, st *store.Store, reg *registry.Registry, pf *portfolio.Tracker, sched *scheduler.Scheduler, defaultProvider string) *Interface {
	i := &Interface{
		registry:        reg,
		store:           st,
		bus:             b,
		portfolio:       pf,
		scheduler:       sched,
		defaultProvider: defaultProvider,
		log:             logger.Named("interface"),
		history:         map[string][]plugin.ChatMessage{},
		locks:           map[string]*sync.Mutex{},
	}

	persisted, err := st.Index().LoadChatHistory()
	if err != nil {
		i.log.Warn("failed to load conversation history", zap.Error(err))
	}
	for channel, messages := range persisted {
		for _, m := range messages {
			i.history[channel] = append(i.history[channel], plugin.ChatMessage{
				Role:    m.Role,
				Content: m.Content,
			})
		}
	}

	b.Subscribe(models.EventIntegrationInput, i.handleInputEvent)
	return i
}

// handleInputEvent routes a raw integration.input event into the chat
// loop. Events published by the interface itself (analysis requests) are
// left to the orchestrator.
func (i *Interface) handleInputEvent(ctx context.Context, event models.Event) {
	if event.Source == "interface" {
		return
	}
	text := strings.TrimSpace(event.PayloadString("text"))
	if text == "" {
		return
	}
	channelID := event.PayloadString("channel_id")
	if channelID == "" {
		channelID = event.PayloadString("chat_id")
	}
	if channelID == "" {
		channelID = "default"
	}
	source := event.PayloadString("source")
	if source == "" {
		source = event.Source
	}

	response := i.HandleMessage(ctx, text, channelID, source)
	if response == "" {
		return
	}
	i.bus.Publish(ctx, models.NewEvent(models.EventIntegrationOutput, "interface", map[string]any{
		"text":       response,
		"channel_id": channelID,
		"adapter":    source,
	}))
}

func (i *Interface) channelLock(channelID string) *sync.Mutex {
	i.locksMu.Lock()
	defer i.locksMu.Unlock()
	lock, ok := i.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		i.locks[channelID] = lock
	}
	return lock
}

// Only user turns and final assistant replies reach the transcript.
// TODO: persist intermediate tool-call/tool-result turns once
// conversation_messages carries tool ids, so reloads replay exactly.
func (i *Interface) appendMessage(channelID, role, content string) {
	i.historyMu.Lock()
	i.history[channelID] = append(i.history[channelID], plugin.ChatMessage{Role: role, Content: content})
	i.historyMu.Unlock()

	if err := i.store.Index().AppendChat(channelID, role, content); err != nil {
		i.log.Warn("failed to persist conversation message",
			zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (i *Interface) channelHistory(channelID string) []plugin.ChatMessage {
	i.historyMu.Lock()
	defer i.historyMu.Unlock()
	return append([]plugin.ChatMessage{}, i.history[channelID]...)
}

// promptInstructions collects instruction sections contributed by
// registered plugins, tagged with the contributing plugin's name.
func (i *Interface) promptInstructions() string {
	var sections []string
	for _, provider := range i.registry.ToolProviders() {
		block := strings.TrimSpace(provider.GetPromptInstructions())
		if block == "" {
			continue
		}
		sections = append(sections, block)
	}
	if len(sections) == 0 {
		return ""
	}
	return "\n\n" + strings.Join(sections, "\n\n")
}

// HandleMessage processes one user message on a channel and returns the
// response text. Processing is serialized per channel.
func (i *Interface) HandleMessage(ctx context.Context, text, channelID, source string) string {
	lock := i.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	llm := i.primaryLLM()
	if llm == nil {
		return noProviderMessage
	}

	i.appendMessage(channelID, "user", text)

	messages := []plugin.ChatMessage{{Role: "system", Content: systemPrompt + i.promptInstructions()}}
	messages = append(messages, i.channelHistory(channelID)...)

	response := i.runToolLoop(ctx, llm, messages, source, channelID)
	if response != "" {
		i.appendMessage(channelID, "assistant", response)
	}
	return response
}

// RunScheduled executes a prompt in scheduled mode: a bounded tail of
// recent channel messages is provided for short-term context, the same
// tool loop runs, but nothing is written to long-term history.
func (i *Interface) RunScheduled(ctx context.Context, prompt, channelID string) (string, error) {
	llm := i.primaryLLM()
	if llm == nil {
		return "", fmt.Errorf("no llm provider registered")
	}

	messages := []plugin.ChatMessage{{Role: "system", Content: systemPrompt + scheduledRider + i.promptInstructions()}}
	if channelID != "" {
		tail := i.channelHistory(channelID)
		if len(tail) > 10 {
			tail = tail[len(tail)-10:]
		}
		messages = append(messages, tail...)
	}
	messages = append(messages, plugin.ChatMessage{Role: "user", Content: prompt})

	response := i.runToolLoop(ctx, llm, messages, "scheduler", channelID)
	if response == "" {
		return "", fmt.Errorf("scheduled run produced no response")
	}
	return response, nil
}

func (i *Interface) primaryLLM() plugin.LLMProvider {
	if i.defaultProvider != "" {
		if llm, ok := i.registry.LLM(i.defaultProvider); ok {
			return llm
		}
	}
	providers := i.registry.LLMs()
	if len(providers) == 0 {
		return nil
	}
	return providers[0]
}

// runToolLoop drives the bounded LLM round loop: call with tools, execute
// any tool calls, feed results back, repeat until the model answers in
// plain text or the round cap is hit.
func (i *Interface) runToolLoop(ctx context.Context, llm plugin.LLMProvider, messages []plugin.ChatMessage, source, channelID string) string {
	tools := i.toolSet()
	ranTools := false

	for round := 0; round < maxToolRounds; round++ {
		if ctx.Err() != nil {
			return ""
		}

		result, err := llm.ToolCall(ctx, messages, tools)
		if err != nil {
			i.log.Error("llm call failed", zap.Error(err))
			return llmFailedMessage
		}

		if !result.HasToolCalls() {
			if result.Text != "" {
				return result.Text
			}
			if !ranTools {
				return "I'm not sure how to help with that."
			}
			// Tools ran but the model went quiet; nudge it once.
			messages = append(messages, plugin.ChatMessage{
				Role:    "user",
				Content: "Summarize what happened for the user.",
			})
			continue
		}

		ranTools = true
		messages = append(messages, plugin.ChatMessage{
			Role:      "assistant",
			Content:   result.Text,
			ToolCalls: result.ToolCalls,
		})

		for _, tc := range result.ToolCalls {
			output := i.executeTool(ctx, tc.Name, tc.Arguments, source, channelID)
			messages = append(messages, plugin.ChatMessage{
				Role:       "tool",
				ToolCallID: tc.ID,
				Name:       tc.Name,
				Content:    stripDataURLs(output),
			})
		}
	}

	// Round cap reached; ask for a final wrap-up without tools.
	messages = append(messages, plugin.ChatMessage{
		Role:    "user",
		Content: "Tool round limit reached. Provide your final answer now using what you have.",
	})
	final, err := llm.Complete(ctx, messages)
	if err != nil {
		i.log.Error("final wrap-up failed", zap.Error(err))
		return "I ran out of steps while working on that. Please try a simpler request."
	}
	return final
}

// executeTool runs one tool call. Unknown built-in names fall through to
// plugin tool dispatch; the first plugin that handles the name wins.
func (i *Interface) executeTool(ctx context.Context, name string, args map[string]any, source, channelID string) (result string) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("tool panicked", zap.String("tool", name), zap.Any("panic", r))
			result = fmt.Sprintf("Error executing %s: internal error", name)
		}
	}()

	i.log.Debug("executing tool", zap.String("tool", name), zap.String("channel_id", channelID))

	out, handled := i.executeBuiltin(ctx, name, args, source, channelID)
	if handled {
		return out
	}

	for _, provider := range i.registry.ToolProviders() {
		text, ok, err := provider.CallTool(ctx, name, args)
		if err != nil {
			return fmt.Sprintf("Error executing %s: %v", name, err)
		}
		if ok {
			return text
		}
	}
	return fmt.Sprintf("Unknown tool: %s", name)
}
