// Package handlers implements the gateway's HTTP surface: registration,
// peer lookup, and the catch-all peer<->backend forwarding handler.
package handlers

import (
	"github.com/omnia-network/wg-gateway/internal/config"
	"github.com/omnia-network/wg-gateway/internal/directory"
	"go.uber.org/zap"
)

// Handlers bundles the dependencies every route needs.
type Handlers struct {
	dir    *directory.Directory
	config *config.Config
	logger *zap.Logger
}

// New builds a Handlers bound to the process-wide directory and config.
func New(dir *directory.Directory, cfg *config.Config, logger *zap.Logger) *Handlers {
	return &Handlers{dir: dir, config: cfg, logger: logger}
}
