package streamproc

import (
	"go.uber.org/zap"

	jsonrepairpkg "github.com/relaycore/gateway/internal/jsonrepair"
	"github.com/relaycore/gateway/internal/loopdetect"
	"github.com/relaycore/gateway/internal/middleware"
	"github.com/relaycore/gateway/internal/session"
)

// DefaultChainConfig bundles everything DefaultChain needs to build the
// spec.md §4.7 default processor order.
type DefaultChainConfig struct {
	JSONRepair    jsonrepairpkg.Config
	JSONService   *jsonrepairpkg.Service
	LoopDetection loopdetect.Config
	AccumCapBytes int
	Manager       *middleware.Manager
	SessionConfig session.LoopDetectionConfiguration
	Log           *zap.Logger
}

// DefaultChain builds the standard production chain named in spec.md
// §4.7: tool-call repair → JSON repair → loop detection → content
// accumulation → middleware application.
func DefaultChain(cfg DefaultChainConfig) *Normalizer {
	return New(
		NewToolCallRepairProcessor(),
		NewJSONRepairProcessor(cfg.JSONRepair, cfg.JSONService, cfg.Log),
		NewLoopDetectionProcessor(cfg.LoopDetection, nil),
		NewContentAccumulationProcessor(cfg.AccumCapBytes, cfg.Log),
		NewMiddlewareApplicationProcessor(cfg.Manager, cfg.SessionConfig),
	)
}
