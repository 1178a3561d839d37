package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/dialogmesh/brain/core"
)

// Loader supplies tenant definitions from persistent storage. The
// registry calls it on a cache miss and after an invalidation; the
// loader resolves tenant secrets (endpoint auth) before returning.
type Loader interface {
	LoadActions(ctx context.Context, brandID, instanceID string) ([]*ActionDefinition, error)
	LoadSchemas(ctx context.Context, brandID string) ([]*SchemaDefinition, error)
	LoadWorkflows(ctx context.Context, brandID string) ([]*WorkflowDefinition, error)
}

// Registry is a read-through cache of definition snapshots, scoped by
// tenant. Reload is atomic: a fresh snapshot replaces the old one and
// readers keep whatever snapshot handle they already hold.
type Registry struct {
	loader Loader
	logger core.Logger

	mu        sync.RWMutex
	actions   map[string]*ActionSnapshot // brand/instance
	schemas   map[string]*SchemaSnapshot // brand
	workflows map[string]*WorkflowSnapshot
}

// NewRegistry creates a registry over the given loader.
func NewRegistry(loader Loader, logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Registry{
		loader:    loader,
		logger:    logger,
		actions:   make(map[string]*ActionSnapshot),
		schemas:   make(map[string]*SchemaSnapshot),
		workflows: make(map[string]*WorkflowSnapshot),
	}
}

func instanceKey(brandID, instanceID string) string {
	return brandID + "/" + instanceID
}

// Actions returns the action snapshot for an instance, loading it on
// first use.
func (r *Registry) Actions(ctx context.Context, brandID, instanceID string) (*ActionSnapshot, error) {
	key := instanceKey(brandID, instanceID)

	r.mu.RLock()
	snap, ok := r.actions[key]
	r.mu.RUnlock()
	if ok {
		return snap, nil
	}

	defs, err := r.loader.LoadActions(ctx, brandID, instanceID)
	if err != nil {
		return nil, fmt.Errorf("loading actions for %s: %w", key, err)
	}
	snap, err = NewActionSnapshot(brandID, instanceID, defs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	// Another goroutine may have loaded concurrently; keep the first
	// snapshot so held handles stay consistent with ours.
	if existing, ok := r.actions[key]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.actions[key] = snap
	r.mu.Unlock()

	r.logger.Info("Action registry loaded", map[string]interface{}{
		"brand_id":    brandID,
		"instance_id": instanceID,
		"actions":     snap.Len(),
	})
	return snap, nil
}

// Schemas returns the schema snapshot for a brand, loading it on first
// use.
func (r *Registry) Schemas(ctx context.Context, brandID string) (*SchemaSnapshot, error) {
	r.mu.RLock()
	snap, ok := r.schemas[brandID]
	r.mu.RUnlock()
	if ok {
		return snap, nil
	}

	defs, err := r.loader.LoadSchemas(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("loading schemas for %s: %w", brandID, err)
	}
	snap = NewSchemaSnapshot(brandID, defs)

	r.mu.Lock()
	if existing, ok := r.schemas[brandID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.schemas[brandID] = snap
	r.mu.Unlock()

	r.logger.Info("Schema registry loaded", map[string]interface{}{
		"brand_id": brandID,
		"schemas":  snap.Len(),
	})
	return snap, nil
}

// Workflows returns the workflow snapshot for a brand, loading it on
// first use.
func (r *Registry) Workflows(ctx context.Context, brandID string) (*WorkflowSnapshot, error) {
	r.mu.RLock()
	snap, ok := r.workflows[brandID]
	r.mu.RUnlock()
	if ok {
		return snap, nil
	}

	defs, err := r.loader.LoadWorkflows(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("loading workflows for %s: %w", brandID, err)
	}
	snap, err = NewWorkflowSnapshot(brandID, defs)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.workflows[brandID]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.workflows[brandID] = snap
	r.mu.Unlock()

	r.logger.Info("Workflow registry loaded", map[string]interface{}{
		"brand_id":  brandID,
		"workflows": snap.Len(),
	})
	return snap, nil
}

// Invalidate drops cached snapshots for a tenant. Passing an empty
// instanceID drops every instance of the brand along with its schema
// and workflow snapshots. The next read reloads.
func (r *Registry) Invalidate(brandID, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if instanceID != "" {
		delete(r.actions, instanceKey(brandID, instanceID))
		return
	}
	prefix := brandID + "/"
	for key := range r.actions {
		if strings.HasPrefix(key, prefix) {
			delete(r.actions, key)
		}
	}
	delete(r.schemas, brandID)
	delete(r.workflows, brandID)
}

// ActionSnapshot is an immutable view of one instance's action catalog.
// Lookup maps are keyed case-insensitively; Definitions preserves
// registry insertion order for deterministic fuzzy tie-breaking.
type ActionSnapshot struct {
	brandID    string
	instanceID string
	defs       []*ActionDefinition
	byName     map[string]*ActionDefinition
	byID       map[string]*ActionDefinition
}

// NewActionSnapshot validates and indexes a set of action definitions.
func NewActionSnapshot(brandID, instanceID string, defs []*ActionDefinition) (*ActionSnapshot, error) {
	snap := &ActionSnapshot{
		brandID:    brandID,
		instanceID: instanceID,
		defs:       make([]*ActionDefinition, 0, len(defs)),
		byName:     make(map[string]*ActionDefinition, len(defs)),
		byID:       make(map[string]*ActionDefinition, len(defs)),
	}
	for _, def := range defs {
		if def.ID == "" || def.CanonicalName == "" {
			return nil, fmt.Errorf("action definition requires id and canonical_name: %w", core.ErrInvalidConfiguration)
		}
		name := strings.ToLower(def.CanonicalName)
		if _, dup := snap.byName[name]; dup {
			return nil, fmt.Errorf("duplicate canonical name %q: %w", def.CanonicalName, core.ErrInvalidConfiguration)
		}
		if _, dup := snap.byID[def.ID]; dup {
			return nil, fmt.Errorf("duplicate action id %q: %w", def.ID, core.ErrInvalidConfiguration)
		}
		snap.defs = append(snap.defs, def)
		snap.byName[name] = def
		snap.byID[def.ID] = def
	}
	return snap, nil
}

// BrandID returns the owning brand.
func (s *ActionSnapshot) BrandID() string { return s.brandID }

// InstanceID returns the owning instance.
func (s *ActionSnapshot) InstanceID() string { return s.instanceID }

// Len returns the number of definitions in the snapshot.
func (s *ActionSnapshot) Len() int { return len(s.defs) }

// Definitions returns the catalog in insertion order. Callers must not
// mutate the returned slice or its entries.
func (s *ActionSnapshot) Definitions() []*ActionDefinition { return s.defs }

// ByID looks up a definition by action id.
func (s *ActionSnapshot) ByID(id string) (*ActionDefinition, bool) {
	def, ok := s.byID[id]
	return def, ok
}

// ByName looks up a definition by canonical name, case-insensitively.
func (s *ActionSnapshot) ByName(name string) (*ActionDefinition, bool) {
	def, ok := s.byName[strings.ToLower(name)]
	return def, ok
}

// SchemaSnapshot is an immutable view of one brand's schema catalog.
type SchemaSnapshot struct {
	brandID string
	byID    map[string]*SchemaDefinition
}

// NewSchemaSnapshot indexes a set of schema definitions.
func NewSchemaSnapshot(brandID string, defs []*SchemaDefinition) *SchemaSnapshot {
	snap := &SchemaSnapshot{
		brandID: brandID,
		byID:    make(map[string]*SchemaDefinition, len(defs)),
	}
	for _, def := range defs {
		snap.byID[def.ID] = def
	}
	return snap
}

// BrandID returns the owning brand.
func (s *SchemaSnapshot) BrandID() string { return s.brandID }

// Len returns the number of definitions in the snapshot.
func (s *SchemaSnapshot) Len() int { return len(s.byID) }

// ByID looks up a schema definition.
func (s *SchemaSnapshot) ByID(id string) (*SchemaDefinition, bool) {
	def, ok := s.byID[id]
	return def, ok
}

// WorkflowSnapshot is an immutable view of one brand's workflows.
type WorkflowSnapshot struct {
	brandID string
	byID    map[string]*WorkflowDefinition
}

// NewWorkflowSnapshot validates and indexes workflow definitions.
func NewWorkflowSnapshot(brandID string, defs []*WorkflowDefinition) (*WorkflowSnapshot, error) {
	snap := &WorkflowSnapshot{
		brandID: brandID,
		byID:    make(map[string]*WorkflowDefinition, len(defs)),
	}
	for _, def := range defs {
		if err := ValidateWorkflow(def); err != nil {
			return nil, err
		}
		snap.byID[def.ID] = def
	}
	return snap, nil
}

// BrandID returns the owning brand.
func (s *WorkflowSnapshot) BrandID() string { return s.brandID }

// Len returns the number of definitions in the snapshot.
func (s *WorkflowSnapshot) Len() int { return len(s.byID) }

// ByID looks up a workflow definition.
func (s *WorkflowSnapshot) ByID(id string) (*WorkflowDefinition, bool) {
	def, ok := s.byID[id]
	return def, ok
}

// ValidateWorkflow checks structural soundness of a workflow: unique
// step ids, dependencies referencing declared steps, and no dependency
// cycles.
func ValidateWorkflow(def *WorkflowDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("workflow id is required: %w", core.ErrInvalidConfiguration)
	}
	if len(def.Steps) == 0 {
		return fmt.Errorf("workflow %s must have at least one step: %w", def.ID, core.ErrInvalidConfiguration)
	}

	steps := make(map[string]bool, len(def.Steps))
	for _, step := range def.Steps {
		if step.SequenceID == "" || step.ActionID == "" {
			return fmt.Errorf("workflow %s: step requires sequence_id and action_id: %w", def.ID, core.ErrInvalidConfiguration)
		}
		if steps[step.SequenceID] {
			return fmt.Errorf("workflow %s: duplicate step %s: %w", def.ID, step.SequenceID, core.ErrInvalidConfiguration)
		}
		steps[step.SequenceID] = true
	}
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if !steps[dep] {
				return fmt.Errorf("workflow %s: step %s depends on unknown step %s: %w", def.ID, step.SequenceID, dep, core.ErrInvalidConfiguration)
			}
		}
	}

	// Cycle check via iterative DFS over the dependency edges.
	deps := make(map[string][]string, len(def.Steps))
	for _, step := range def.Steps {
		deps[step.SequenceID] = step.DependsOn
	}
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))
	var visit func(string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return false
			case white:
				if !visit(dep) {
					return false
				}
			}
		}
		color[id] = black
		return true
	}
	for id := range deps {
		if color[id] == white && !visit(id) {
			return fmt.Errorf("workflow %s: dependency cycle detected: %w", def.ID, core.ErrInvalidConfiguration)
		}
	}
	return nil
}
