// Package registry holds every pluggable capability instance, keyed by
// kind and name. Wiring registers plugins at startup; core components
// look them up by kind without importing implementations.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/pkg/logger"
)

// Registry is a thread-safe kind/name index of plugin instances.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[string]any
	log     *zap.Logger
}

// New creates an empty registry with all known kinds initialized.
func New() *Registry {
	entries := make(map[string]map[string]any, len(plugin.Kinds))
	for _, kind := range plugin.Kinds {
		entries[kind] = map[string]any{}
	}
	return &Registry{entries: entries, log: logger.Named("registry")}
}

// Register stores an instance under (kind, name). Re-registering the same
// name overwrites the previous instance with a warning.
func (r *Registry) Register(kind, name string, instance any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byName, ok := r.entries[kind]
	if !ok {
		return fmt.Errorf("unknown plugin kind %q", kind)
	}
	if _, exists := byName[name]; exists {
		r.log.Warn("overwriting registered plugin",
			zap.String("kind", kind), zap.String("name", name))
	}
	byName[name] = instance
	r.log.Debug("registered plugin", zap.String("kind", kind), zap.String("name", name))
	return nil
}

// Get returns the instance registered under (kind, name).
func (r *Registry) Get(kind, name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName, ok := r.entries[kind]
	if !ok {
		return nil, false
	}
	instance, ok := byName[name]
	return instance, ok
}

// All returns every instance of a kind, sorted by name for determinism.
func (r *Registry) All(kind string) []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byName := r.entries[kind]
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]any, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out
}

// Names returns the registered names of a kind, sorted.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries[kind]))
	for name := range r.entries[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary returns a per-kind count of registered plugins.
func (r *Registry) Summary() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.entries))
	for kind, byName := range r.entries {
		out[kind] = len(byName)
	}
	return out
}

// Typed accessors. Instances registered under a kind are expected to
// satisfy that kind's interface; mismatches are skipped with a warning.

func (r *Registry) LLM(name string) (plugin.LLMProvider, bool) {
	v, ok := r.Get(plugin.KindLLM, name)
	if !ok {
		return nil, false
	}
	p, ok := v.(plugin.LLMProvider)
	return p, ok
}

func (r *Registry) LLMs() []plugin.LLMProvider {
	return collect[plugin.LLMProvider](r, plugin.KindLLM)
}

func (r *Registry) MarketDataProviders() []plugin.MarketDataProvider {
	return collect[plugin.MarketDataProvider](r, plugin.KindMarketData)
}

func (r *Registry) InputAdapters() []plugin.InputAdapter {
	return collect[plugin.InputAdapter](r, plugin.KindInput)
}

func (r *Registry) OutputAdapters() []plugin.OutputAdapter {
	return collect[plugin.OutputAdapter](r, plugin.KindOutput)
}

func (r *Registry) OutputAdapter(name string) (plugin.OutputAdapter, bool) {
	v, ok := r.Get(plugin.KindOutput, name)
	if !ok {
		return nil, false
	}
	a, ok := v.(plugin.OutputAdapter)
	return a, ok
}

func (r *Registry) Agents() []plugin.AIAgent {
	return collect[plugin.AIAgent](r, plugin.KindAgent)
}

func (r *Registry) RiskRules() []plugin.RiskRule {
	return collect[plugin.RiskRule](r, plugin.KindRiskRule)
}

func (r *Registry) TaskHandler(name string) (plugin.TaskHandler, bool) {
	v, ok := r.Get(plugin.KindTaskHandler, name)
	if !ok {
		return nil, false
	}
	h, ok := v.(plugin.TaskHandler)
	return h, ok
}

func (r *Registry) TaskHandlerNames() []string {
	return r.Names(plugin.KindTaskHandler)
}

// ToolProviders returns every registered plugin, of any kind, that also
// implements the optional tool hook.
func (r *Registry) ToolProviders() []plugin.ToolProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[any]bool{}
	var out []plugin.ToolProvider
	for _, kind := range plugin.Kinds {
		byName := r.entries[kind]
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			v := byName[name]
			if tp, ok := v.(plugin.ToolProvider); ok && !seen[v] {
				seen[v] = true
				out = append(out, tp)
			}
		}
	}
	return out
}

func collect[T any](r *Registry, kind string) []T {
	var out []T
	for _, v := range r.All(kind) {
		if typed, ok := v.(T); ok {
			out = append(out, typed)
		} else {
			r.log.Warn("registered plugin does not implement kind interface",
				zap.String("kind", kind))
		}
	}
	return out
}
