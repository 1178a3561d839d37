package brain

import (
	"context"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/session"
)

// ConfigProvider supplies per-instance configuration the brain reads
// but does not maintain.
type ConfigProvider interface {
	InstanceConfig(ctx context.Context, brandID, instanceID string) (*registry.InstanceConfig, error)
}

// StaticConfigProvider serves instance configs from a fixed map.
type StaticConfigProvider struct {
	configs map[string]*registry.InstanceConfig
}

// NewStaticConfigProvider creates an empty provider.
func NewStaticConfigProvider() *StaticConfigProvider {
	return &StaticConfigProvider{configs: make(map[string]*registry.InstanceConfig)}
}

// Add registers one instance config.
func (p *StaticConfigProvider) Add(cfg *registry.InstanceConfig) {
	p.configs[cfg.BrandID+"/"+cfg.InstanceID] = cfg
}

// InstanceConfig returns the config for an instance; unknown instances
// get an empty config rather than an error.
func (p *StaticConfigProvider) InstanceConfig(ctx context.Context, brandID, instanceID string) (*registry.InstanceConfig, error) {
	if cfg, ok := p.configs[brandID+"/"+instanceID]; ok {
		return cfg, nil
	}
	return &registry.InstanceConfig{BrandID: brandID, InstanceID: instanceID}, nil
}

// ColdPathTrigger is the async collaborator invoked after the turn's
// wires are written. It receives the conversation reference and the
// ledger; the summary it produces is never read back within the turn.
type ColdPathTrigger interface {
	TriggerSummary(ctx context.Context, sessionID string, ledger []session.IntentSummary)
}

// updateWires rebuilds the seven brain-owned wires from the turn's
// final state and narrative. Called right before the checkpoint so the
// wires land atomically with it.
func updateWires(ctx context.Context, state *session.State, narrative *Narrative, configs ConfigProvider, conversationContext map[string]interface{}, logger core.Logger) {
	wires := session.Wires{
		PreviousIntents:     state.Ledger.LastSummaries(core.DefaultPreviousIntentsWindow),
		ConversationContext: conversationContext,
	}

	if narrative != nil {
		wires.ExpectingResponse = narrative.DetectionContext.ExpectingResponse
		wires.AnswerSheet = narrative.DetectionContext.AnswerSheet
		wires.AvailableSignals = narrative.DetectionContext.AnswerSheet.Signals()
	}
	wires.ActiveTask = state.ActiveTask()

	if configs != nil {
		cfg, err := configs.InstanceConfig(ctx, state.BrandID, state.InstanceID)
		if err != nil {
			logger.Warn("Instance config unavailable", map[string]interface{}{
				"brand_id":    state.BrandID,
				"instance_id": state.InstanceID,
				"error":       err.Error(),
			})
		} else {
			wires.PopularActions = cfg.PopularActions
		}
	}

	state.Wires = wires
}
