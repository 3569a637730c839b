package engine

import "github.com/advisord/advisord/internal/plugin"

// builtinTools is the tool set the interface always exposes to the LLM.
// Plugin-contributed tools are appended at call time, skipping any name
// that collides with a built-in.
var builtinTools = []plugin.ToolDef{
	{
		Name:        "confirm_trade",
		Description: "User confirms they executed a trade that was signaled. Records the position in the human portfolio.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticker": map[string]any{
					"type":        "string",
					"description": "The ticker symbol (e.g., NVDA, BTC-USD, AAPL)",
				},
				"entry_price": map[string]any{
					"type":        "number",
					"description": "The price at which the user entered the trade",
				},
				"size": map[string]any{
					"type":        "number",
					"description": "Number of units/shares/coins bought (optional)",
				},
			},
			"required": []string{"ticker", "entry_price"},
		},
	},
	{
		Name:        "skip_trade",
		Description: "User decides to skip/reject a signaled trade. Records the skip with the user's reason.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticker": map[string]any{
					"type":        "string",
					"description": "The ticker symbol of the signal being skipped",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Why the user is skipping this trade",
				},
			},
			"required": []string{"ticker"},
		},
	},
	{
		Name:        "close_position",
		Description: "User reports they closed/exited a position.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticker": map[string]any{
					"type":        "string",
					"description": "The ticker symbol",
				},
				"close_price": map[string]any{
					"type":        "number",
					"description": "The price at which the position was closed",
				},
			},
			"required": []string{"ticker", "close_price"},
		},
	},
	{
		Name:        "user_initiated_trade",
		Description: "User reports a trade they took on their own initiative, not from an AI signal.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticker": map[string]any{
					"type":        "string",
					"description": "The ticker symbol",
				},
				"direction": map[string]any{
					"type":        "string",
					"enum":        []string{"long", "short"},
					"description": "Trade direction",
				},
				"entry_price": map[string]any{
					"type":        "number",
					"description": "Entry price",
				},
				"size": map[string]any{
					"type":        "number",
					"description": "Number of units (optional)",
				},
				"reason": map[string]any{
					"type":        "string",
					"description": "Why the user took this trade",
				},
			},
			"required": []string{"ticker", "direction", "entry_price"},
		},
	},
	{
		Name:        "get_portfolio",
		Description: "Get current portfolio state. Can show AI portfolio, human portfolio, or both.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"portfolio_type": map[string]any{
					"type":        "string",
					"enum":        []string{"ai", "human", "both"},
					"description": "Which portfolio to show (default: both)",
				},
			},
		},
	},
	{
		Name:        "get_price",
		Description: "Get the latest price for a ticker.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticker": map[string]any{
					"type":        "string",
					"description": "The ticker symbol (e.g., NVDA, BTC-USD, SPY)",
				},
			},
			"required": []string{"ticker"},
		},
	},
	{
		Name:        "list_tasks",
		Description: "List all scheduled tasks (monitoring, analysis, etc.).",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "list_task_handlers",
		Description: "List the task handler names available for create_task.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "create_task",
		Description: "Create a new scheduled task.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Human-readable task name",
				},
				"type": map[string]any{
					"type":        "string",
					"enum":        []string{"one_off", "recurring", "research"},
					"description": "Task type",
				},
				"handler": map[string]any{
					"type":        "string",
					"description": "Handler name (e.g., ai.run_prompt, market.sync)",
				},
				"cron_expression": map[string]any{
					"type":        "string",
					"description": "Cron schedule for recurring tasks (e.g., '0 16 * * 1-5')",
				},
				"run_at": map[string]any{
					"type":        "string",
					"description": "ISO datetime for one-off tasks",
				},
				"params": map[string]any{
					"type":        "object",
					"description": "Parameters to pass to the handler",
				},
			},
			"required": []string{"name", "handler"},
		},
	},
	{
		Name:        "delete_task",
		Description: "Delete a scheduled task by ID.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "string",
					"description": "The task ID to delete",
				},
			},
			"required": []string{"task_id"},
		},
	},
	{
		Name:        "delete_task_by_name",
		Description: "Delete a scheduled task by its human-readable name.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "The task name to delete",
				},
			},
			"required": []string{"name"},
		},
	},
	{
		Name:        "get_memories",
		Description: "View learning memories from past AI-vs-human divergences.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticker": map[string]any{
					"type":        "string",
					"description": "Filter by ticker (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max memories to return (default: 10)",
				},
			},
		},
	},
	{
		Name:        "get_signals",
		Description: "List recent signals (trade recommendations).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{"proposed", "approved", "rejected", "delivered"},
					"description": "Filter by signal status (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Max signals to return (default: 10)",
				},
			},
		},
	},
	{
		Name:        "run_analysis",
		Description: "Trigger an on-demand analysis for a specific ticker or topic.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topic": map[string]any{
					"type":        "string",
					"description": "What to analyze (e.g., a ticker, a macro event, a sector)",
				},
			},
			"required": []string{"topic"},
		},
	},
}

// toolSet returns the built-in tools plus plugin-contributed ones,
// dropping plugin tools whose names collide with an existing entry.
func (i *Interface) toolSet() []plugin.ToolDef {
	tools := make([]plugin.ToolDef, len(builtinTools))
	copy(tools, builtinTools)

	seen := map[string]bool{}
	for _, t := range tools {
		seen[t.Name] = true
	}
	for _, provider := range i.registry.ToolProviders() {
		for _, t := range provider.GetTools() {
			if seen[t.Name] {
				continue
			}
			seen[t.Name] = true
			tools = append(tools, t)
		}
	}
	return tools
}
