package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryReadThroughAndInvalidate(t *testing.T) {
	loader := NewStaticLoader()
	loader.AddActions("brand-1", "wa-1", []*ActionDefinition{
		action("a1", "apply_job"),
	})
	reg := NewRegistry(loader, nil)

	snap, err := reg.Actions(context.Background(), "brand-1", "wa-1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Len())

	// Mutating the loader does not affect the cached snapshot.
	loader.AddActions("brand-1", "wa-1", []*ActionDefinition{
		action("a1", "apply_job"),
		action("a2", "track_order"),
	})
	again, err := reg.Actions(context.Background(), "brand-1", "wa-1")
	require.NoError(t, err)
	assert.Same(t, snap, again)

	// Invalidation swaps in a fresh snapshot; the held handle is
	// untouched.
	reg.Invalidate("brand-1", "wa-1")
	reloaded, err := reg.Actions(context.Background(), "brand-1", "wa-1")
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Len())
	assert.Equal(t, 1, snap.Len())
}

func TestRegistryTenantIsolation(t *testing.T) {
	loader := NewStaticLoader()
	loader.AddActions("brand-a", "wa-1", []*ActionDefinition{action("a1", "apply_job")})
	loader.AddActions("brand-b", "wa-1", []*ActionDefinition{action("b1", "process_payment")})
	reg := NewRegistry(loader, nil)

	snapA, err := reg.Actions(context.Background(), "brand-a", "wa-1")
	require.NoError(t, err)
	snapB, err := reg.Actions(context.Background(), "brand-b", "wa-1")
	require.NoError(t, err)

	_, ok := snapA.ByName("process_payment")
	assert.False(t, ok)
	_, ok = snapB.ByName("process_payment")
	assert.True(t, ok)
}

func TestNewActionSnapshotRejectsDuplicates(t *testing.T) {
	_, err := NewActionSnapshot("b", "i", []*ActionDefinition{
		action("a1", "apply_job"),
		action("a2", "Apply_Job"),
	})
	assert.Error(t, err)

	_, err = NewActionSnapshot("b", "i", []*ActionDefinition{
		action("a1", "apply_job"),
		action("a1", "track_order"),
	})
	assert.Error(t, err)
}

func TestValidateWorkflow(t *testing.T) {
	valid := &WorkflowDefinition{
		ID:      "wf-1",
		Timeout: time.Minute,
		Steps: []WorkflowStep{
			{SequenceID: "s1", ActionID: "a1", Required: true},
			{SequenceID: "s2", ActionID: "a2", Required: true, DependsOn: []string{"s1"}},
		},
	}
	assert.NoError(t, ValidateWorkflow(valid))

	unknownDep := &WorkflowDefinition{
		ID: "wf-2",
		Steps: []WorkflowStep{
			{SequenceID: "s1", ActionID: "a1", DependsOn: []string{"missing"}},
		},
	}
	assert.Error(t, ValidateWorkflow(unknownDep))

	cyclic := &WorkflowDefinition{
		ID: "wf-3",
		Steps: []WorkflowStep{
			{SequenceID: "s1", ActionID: "a1", DependsOn: []string{"s2"}},
			{SequenceID: "s2", ActionID: "a2", DependsOn: []string{"s1"}},
		},
	}
	assert.Error(t, ValidateWorkflow(cyclic))
}

func TestParseActionsYAML(t *testing.T) {
	data := []byte(`
brand_id: brand-1
instance_id: wa-1
actions:
  - id: a1
    canonical_name: apply_job
    synonyms: [submit_application]
    params_required: [job_id, resume_url]
    is_active: true
    eligibility:
      requires_auth: true
      schema_dependencies:
        profile:
          required_keys: [email, phone]
          all_must_be: complete
`)
	defs, err := ParseActionsYAML(data)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "apply_job", defs[0].CanonicalName)
	assert.Equal(t, PriorityNormal, defs[0].Priority)
	dep := defs[0].Eligibility.SchemaDependencies["profile"]
	assert.Equal(t, KeyStatusComplete, dep.AllMustBe)
	assert.Equal(t, []string{"email", "phone"}, dep.RequiredKeys)
}

func TestParseWorkflowsYAMLValidates(t *testing.T) {
	data := []byte(`
brand_id: brand-1
workflows:
  - id: wf-1
    steps:
      - sequence_id: s1
        action_id: a1
        required: true
      - sequence_id: s2
        action_id: a2
        required: true
        depends_on: [s1]
`)
	defs, err := ParseWorkflowsYAML(data)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Len(t, defs[0].Steps, 2)

	bad := []byte(`
workflows:
  - id: wf-1
    steps:
      - sequence_id: s1
        action_id: a1
        depends_on: [nope]
`)
	_, err = ParseWorkflowsYAML(bad)
	assert.Error(t, err)
}
