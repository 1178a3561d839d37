package registry

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/dialogmesh/brain/core"
)

// actionCatalogFile is the on-disk shape of an action catalog.
type actionCatalogFile struct {
	BrandID    string              `yaml:"brand_id"`
	InstanceID string              `yaml:"instance_id"`
	Actions    []*ActionDefinition `yaml:"actions"`
}

// schemaCatalogFile is the on-disk shape of a schema catalog.
type schemaCatalogFile struct {
	BrandID string              `yaml:"brand_id"`
	Schemas []*SchemaDefinition `yaml:"schemas"`
}

// workflowCatalogFile is the on-disk shape of a workflow catalog.
type workflowCatalogFile struct {
	BrandID   string                `yaml:"brand_id"`
	Workflows []*WorkflowDefinition `yaml:"workflows"`
}

// ParseActionsYAML parses an action catalog from YAML.
func ParseActionsYAML(data []byte) ([]*ActionDefinition, error) {
	var file actionCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing action catalog YAML: %w", err)
	}
	for _, def := range file.Actions {
		if def.Priority == "" {
			def.Priority = PriorityNormal
		}
	}
	return file.Actions, nil
}

// ParseSchemasYAML parses a schema catalog from YAML.
func ParseSchemasYAML(data []byte) ([]*SchemaDefinition, error) {
	var file schemaCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing schema catalog YAML: %w", err)
	}
	return file.Schemas, nil
}

// ParseWorkflowsYAML parses a workflow catalog from YAML.
func ParseWorkflowsYAML(data []byte) ([]*WorkflowDefinition, error) {
	var file workflowCatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing workflow catalog YAML: %w", err)
	}
	for _, def := range file.Workflows {
		if err := ValidateWorkflow(def); err != nil {
			return nil, err
		}
	}
	return file.Workflows, nil
}

// StaticLoader serves definitions from memory. It backs tests and
// embeddings that manage catalogs themselves; production deployments
// implement Loader against their configuration store.
type StaticLoader struct {
	ActionCatalogs   map[string][]*ActionDefinition // keyed brand/instance
	SchemaCatalogs   map[string][]*SchemaDefinition // keyed brand
	WorkflowCatalogs map[string][]*WorkflowDefinition
}

// NewStaticLoader creates an empty static loader.
func NewStaticLoader() *StaticLoader {
	return &StaticLoader{
		ActionCatalogs:   make(map[string][]*ActionDefinition),
		SchemaCatalogs:   make(map[string][]*SchemaDefinition),
		WorkflowCatalogs: make(map[string][]*WorkflowDefinition),
	}
}

// AddActions registers an instance's action catalog.
func (l *StaticLoader) AddActions(brandID, instanceID string, defs []*ActionDefinition) {
	l.ActionCatalogs[instanceKey(brandID, instanceID)] = defs
}

// AddSchemas registers a brand's schema catalog.
func (l *StaticLoader) AddSchemas(brandID string, defs []*SchemaDefinition) {
	l.SchemaCatalogs[brandID] = defs
}

// AddWorkflows registers a brand's workflow catalog.
func (l *StaticLoader) AddWorkflows(brandID string, defs []*WorkflowDefinition) {
	l.WorkflowCatalogs[brandID] = defs
}

func (l *StaticLoader) LoadActions(ctx context.Context, brandID, instanceID string) ([]*ActionDefinition, error) {
	defs, ok := l.ActionCatalogs[instanceKey(brandID, instanceID)]
	if !ok {
		return nil, fmt.Errorf("no action catalog for %s/%s: %w", brandID, instanceID, core.ErrTenantNotFound)
	}
	return defs, nil
}

func (l *StaticLoader) LoadSchemas(ctx context.Context, brandID string) ([]*SchemaDefinition, error) {
	defs, ok := l.SchemaCatalogs[brandID]
	if !ok {
		return nil, fmt.Errorf("no schema catalog for %s: %w", brandID, core.ErrTenantNotFound)
	}
	return defs, nil
}

func (l *StaticLoader) LoadWorkflows(ctx context.Context, brandID string) ([]*WorkflowDefinition, error) {
	return l.WorkflowCatalogs[brandID], nil
}
