package plugins

import (
	"context"

	"github.com/joshp123/midea/internal/config"
	"github.com/joshp123/midea/internal/core"
)

// Factory builds a plugin instance from the loaded config. It reports false
// when the plugin is not configured.
type Factory func(context.Context, *config.Config) (core.Plugin, bool)

var compiled []Factory

// Register adds a compiled-in plugin factory to the registry.
func Register(factory Factory) {
	compiled = append(compiled, factory)
}

// Compiled returns the configured plugin instances for this build.
func Compiled(ctx context.Context, cfg *config.Config) []core.Plugin {
	if cfg == nil {
		return nil
	}
	out := make([]core.Plugin, 0, len(compiled))
	for _, factory := range compiled {
		plugin, ok := factory(ctx, cfg)
		if !ok {
			continue
		}
		out = append(out, plugin)
	}
	return out
}
