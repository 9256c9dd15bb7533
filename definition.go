package workflowcore

import (
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/fluxline/workflowcore/internal/graph"
)

// NormalizeDefinition validates a WorkflowDefinition's step DAG and returns
// a copy with Roots and TopoOrder recomputed, per the invariant in §3:
// "step ids unique within definition; dependency graph is a DAG; roots and
// topological order are recomputed deterministically whenever the
// definition is stored." Whatever owns the workflow_definitions table (the
// core does not, per §6's four named contracts) is expected to call this
// before persisting.
func NormalizeDefinition(def WorkflowDefinition) (WorkflowDefinition, error) {
	g := graph.New()
	seen := make(map[string]struct{}, len(def.Steps))
	for _, step := range def.Steps {
		if _, dup := seen[step.ID]; dup {
			return WorkflowDefinition{}, errors.Wrap(ErrInvalidDefinition, "normalize definition: duplicate step id", j.MKV{
				"workflow_definition_id": def.ID, "step_id": step.ID,
			})
		}
		seen[step.ID] = struct{}{}
		g.AddNode(step.ID)
	}
	for _, step := range def.Steps {
		for _, dep := range step.DependsOn {
			if _, ok := seen[dep]; !ok {
				return WorkflowDefinition{}, errors.Wrap(ErrInvalidDefinition, "normalize definition: unknown dependency", j.MKV{
					"workflow_definition_id": def.ID, "step_id": step.ID, "unknown_dependency": dep,
				})
			}
			g.AddEdge(dep, step.ID)
		}
	}

	order, err := g.TopoSort()
	if err != nil {
		var cycleErr *graph.ErrCycle
		if errors.As(err, &cycleErr) {
			return WorkflowDefinition{}, errors.Wrap(ErrInvalidDefinition, "normalize definition: cyclic step dependency", j.MKV{
				"workflow_definition_id": def.ID, "cycle_at": cycleErr.Node,
			})
		}
		return WorkflowDefinition{}, err
	}

	out := def
	out.TopoOrder = order
	out.Roots = g.Roots()
	return out, nil
}
