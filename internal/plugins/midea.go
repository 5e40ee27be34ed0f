package plugins

import (
	"context"

	"github.com/joshp123/midea/internal/config"
	"github.com/joshp123/midea/internal/core"
	"github.com/joshp123/midea/plugins/midea"
)

func init() {
	Register(func(ctx context.Context, cfg *config.Config) (core.Plugin, bool) {
		return midea.NewPlugin(ctx, cfg)
	})
}
