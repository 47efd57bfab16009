// Package graph validates workflow graphs before they are persisted or
// published. A graph is a DAG of typed nodes; execution starts from a
// trigger node, so every saved graph must contain at least one.
package graph

import (
	"errors"
	"fmt"

	"github.com/flowstone-io/flowstone/pkg/models"
)

// Validation sentinel errors.
var (
	ErrEmptyGraph      = errors.New("graph has no nodes")
	ErrUnknownEndpoint = errors.New("edge references unknown node")
	ErrCycleDetected   = errors.New("graph contains a cycle")
	ErrNoTriggerNode   = errors.New("graph has no trigger node")
)

// CycleError reports a detected cycle with the node that closed it.
type CycleError struct {
	NodeID string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle through node %s", e.NodeID)
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// Validate checks the save-time invariants: the graph is non-empty, every
// edge endpoint exists, no directed cycle is reachable and at least one
// node is a trigger. Whether a trigger is enabled only matters at publish
// time, so drafts may keep theirs disabled.
func Validate(g *models.WorkflowGraph) error {
	if len(g.Nodes) == 0 {
		return ErrEmptyGraph
	}

	nodes := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		nodes[node.ID] = true
	}

	adjacency := make(map[string][]string, len(g.Nodes))

	for _, edge := range g.Edges {
		if !nodes[edge.SourceNode] {
			return fmt.Errorf("edge %s source %s: %w", edge.ID, edge.SourceNode, ErrUnknownEndpoint)
		}

		if !nodes[edge.TargetNode] {
			return fmt.Errorf("edge %s target %s: %w", edge.ID, edge.TargetNode, ErrUnknownEndpoint)
		}

		adjacency[edge.SourceNode] = append(adjacency[edge.SourceNode], edge.TargetNode)
	}

	err := detectCycle(g.Nodes, adjacency)
	if err != nil {
		return err
	}

	for _, node := range g.Nodes {
		if node.IsTrigger() {
			return nil
		}
	}

	return ErrNoTriggerNode
}

// ValidateForPublish runs Validate and additionally requires at least one
// trigger node to be enabled, since a published graph must be startable.
func ValidateForPublish(g *models.WorkflowGraph) error {
	err := Validate(g)
	if err != nil {
		return err
	}

	for _, node := range g.Nodes {
		if node.IsTrigger() && node.IsEnabled {
			return nil
		}
	}

	return ErrNoTriggerNode
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// detectCycle runs an iterative three-color DFS from every node. A gray
// node reached again closes a cycle.
func detectCycle(nodes []*models.GraphNode, adjacency map[string][]string) error {
	colors := make(map[string]int, len(nodes))

	for _, node := range nodes {
		if colors[node.ID] != colorWhite {
			continue
		}

		err := visit(node.ID, adjacency, colors)
		if err != nil {
			return err
		}
	}

	return nil
}

type frame struct {
	node string
	next int
}

func visit(start string, adjacency map[string][]string, colors map[string]int) error {
	stack := []frame{{node: start}}
	colors[start] = colorGray

	for len(stack) > 0 {
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
			return &CycleError{NodeID: neighbor}
		case colorWhite:
			colors[neighbor] = colorGray
			stack = append(stack, frame{node: neighbor})
		}
	}

	return nil
}
