package engine

import (
	"sort"

	"github.com/rendis/flowop/pkg/schema"
)

// Node is one DAG entry with its precomputed degree counts.
type Node struct {
	Step      *schema.Step
	InDegree  int
	OutDegree int
}

// DAG is the in-memory directed acyclic graph representation of a workflow.
// Built from a Definition, used by the orchestrator to compute the ready
// frontier.
type DAG struct {
	Nodes   map[string]*Node    // step ID → node
	Edges   map[string][]string // step ID → dependencies
	Reverse map[string][]string // step ID → dependents (who depends on me)
	Sorted  []string            // topological order
	Roots   []string            // steps with no dependencies
}

// BuildDAG parses a Definition into an executable DAG. It registers steps,
// validates dependency references, builds adjacency lists, and runs Kahn's
// algorithm for topological sorting and cycle detection. O(V + E).
func BuildDAG(def *schema.Definition) (*DAG, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if len(def.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no steps")
	}

	dag := &DAG{
		Nodes:   make(map[string]*Node, len(def.Steps)),
		Edges:   make(map[string][]string, len(def.Steps)),
		Reverse: make(map[string][]string, len(def.Steps)),
	}

	// First pass: register all steps and check for duplicates.
	for i := range def.Steps {
		step := &def.Steps[i]
		if step.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "step at index %d has empty ID", i)
		}
		if _, exists := dag.Nodes[step.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate step ID: %s", step.ID)
		}
		dag.Nodes[step.ID] = &Node{Step: step}
	}

	// Second pass: build adjacency lists and validate dependencies.
	for id, node := range dag.Nodes {
		seen := make(map[string]bool, len(node.Step.Dependencies))
		deps := make([]string, 0, len(node.Step.Dependencies))
		for _, dep := range node.Step.Dependencies {
			if _, exists := dag.Nodes[dep]; !exists {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s depends on non-existent step: %s", id, dep)
			}
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "step %s depends on itself", id).
					WithDetails(map[string]any{"cycle": []string{id, id}})
			}
			if seen[dep] {
				return nil, schema.NewErrorf(schema.ErrCodeValidation, "step %s has duplicate dependency: %s", id, dep)
			}
			seen[dep] = true
			deps = append(deps, dep)
			dag.Reverse[dep] = append(dag.Reverse[dep], id)
		}
		dag.Edges[id] = deps
	}

	for id, node := range dag.Nodes {
		node.InDegree = len(dag.Edges[id])
		node.OutDegree = len(dag.Reverse[id])
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		inDegree[id] = len(dag.Edges[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	// Sort roots for deterministic ordering.
	sort.Strings(queue)
	dag.Roots = make([]string, len(queue))
	copy(dag.Roots, queue)

	sorted := make([]string, 0, len(dag.Nodes))
	visited := make(map[string]bool, len(dag.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)
		visited[node] = true

		dependents := make([]string, len(dag.Reverse[node]))
		copy(dependents, dag.Reverse[node])
		sort.Strings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(dag.Nodes) {
		cycle := recoverCycle(dag, visited)
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle").
			WithDetails(map[string]any{"cycle": cycle})
	}

	dag.Sorted = sorted
	return dag, nil
}

// recoverCycle walks the nodes absent from the partial Kahn output to
// produce one representative cycle path. Every unvisited node sits on or
// leads into a cycle, so following unvisited dependencies must revisit a
// node.
func recoverCycle(dag *DAG, visited map[string]bool) []string {
	var start string
	unvisited := make([]string, 0)
	for id := range dag.Nodes {
		if !visited[id] {
			unvisited = append(unvisited, id)
		}
	}
	sort.Strings(unvisited)
	if len(unvisited) == 0 {
		return nil
	}
	start = unvisited[0]

	path := []string{}
	index := make(map[string]int)
	cur := start
	for {
		if at, seen := index[cur]; seen {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, cur)
		}
		index[cur] = len(path)
		path = append(path, cur)

		next := ""
		for _, dep := range dag.Edges[cur] {
			if !visited[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			// Dead end, should not happen for unvisited nodes.
			return path
		}
		cur = next
	}
}

// ReadySteps returns the scheduling frontier: steps not yet completed whose
// dependencies all lie within the completed set. The result is sorted for
// stable ordering within a single call.
func ReadySteps(dag *DAG, completed map[string]bool) []string {
	ready := make([]string, 0)
	for id := range dag.Nodes {
		if completed[id] {
			continue
		}
		ok := true
		for _, dep := range dag.Edges[id] {
			if !completed[dep] {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	return ready
}
