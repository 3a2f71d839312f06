//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"kabuscan/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config, mode string) (*App, error) {
	panic(wire.Build(provideAppBuilder, provideAppFromBuilder))
}
