package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/flowstone-io/flowstone/pkg/models"
	"github.com/flowstone-io/flowstone/pkg/worker"
)

// graphExecutor is the built-in executor: it walks the graph depth-first
// from its enabled trigger nodes and logs every node it reaches. Node-type
// specific actions are the domain of external executors; this one keeps the
// claim loop, breaker and guard exercisable end to end.
type graphExecutor struct {
	logger *slog.Logger
}

func newGraphExecutor(logger *slog.Logger) *graphExecutor {
	return &graphExecutor{logger: logger.With("module", "executor")}
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current walk path
	colorBlack        // fully walked
)

type walkFrame struct {
	node string
	next int
}

func (e *graphExecutor) Execute(ctx context.Context, run *worker.Run) error {
	adjacency := make(map[string][]string)
	for _, edge := range run.Graph.Edges {
		adjacency[edge.SourceNode] = append(adjacency[edge.SourceNode], edge.TargetNode)
	}

	nodes := make(map[string]*models.GraphNode, len(run.Graph.Nodes))
	roots := make([]string, 0)

	for _, node := range run.Graph.Nodes {
		nodes[node.ID] = node

		if node.IsTrigger() && node.IsEnabled {
			roots = append(roots, node.ID)
		}
	}

	if len(roots) == 0 {
		return errors.New("graph has no enabled trigger node")
	}

	colors := make(map[string]int, len(nodes))

	for _, root := range roots {
		if colors[root] != colorWhite {
			continue
		}

		err := e.walk(ctx, run, root, nodes, adjacency, colors)
		if err != nil {
			return err
		}
	}

	return nil
}

// walk runs one depth-first pass. A gray neighbor closes a loop-back and
// charges the run's loop budget; a black neighbor is a join already walked
// through another branch and costs nothing.
func (e *graphExecutor) walk(ctx context.Context, run *worker.Run, start string, nodes map[string]*models.GraphNode, adjacency map[string][]string, colors map[string]int) error {
	colors[start] = colorGray
	e.execNode(ctx, run, nodes[start])

	stack := []walkFrame{{node: start}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		top := &stack[len(stack)-1]

		neighbors := adjacency[top.node]
		if top.next >= len(neighbors) {
			colors[top.node] = colorBlack
			stack = stack[:len(stack)-1]

			continue
		}

		neighbor := neighbors[top.next]
		top.next++

		switch colors[neighbor] {
		case colorGray:
			err := run.Continue()
			if err != nil {
				return err
			}
		case colorWhite:
			node := nodes[neighbor]
			if node == nil || !node.IsEnabled {
				// Disabled nodes stop propagation along their branch.
				colors[neighbor] = colorBlack

				continue
			}

			colors[neighbor] = colorGray
			e.execNode(ctx, run, node)
			stack = append(stack, walkFrame{node: neighbor})
		}
	}

	return nil
}

func (e *graphExecutor) execNode(ctx context.Context, run *worker.Run, node *models.GraphNode) {
	e.logger.InfoContext(ctx, "Executing node",
		"execution_id", run.Execution.ID,
		"node_id", node.ID,
		"node_type", node.NodeType)
}
