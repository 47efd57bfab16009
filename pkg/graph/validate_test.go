package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowstone-io/flowstone/pkg/models"
)

func node(id, nodeType string) *models.GraphNode {
	return &models.GraphNode{ID: id, NodeType: nodeType, IsEnabled: true}
}

func edge(id, source, target string) *models.GraphEdge {
	return &models.GraphEdge{ID: id, SourceNode: source, TargetNode: target}
}

func TestValidate_EmptyGraph(t *testing.T) {
	err := Validate(&models.WorkflowGraph{})

	assert.ErrorIs(t, err, ErrEmptyGraph)
}

func TestValidate_UnknownEdgeEndpoint(t *testing.T) {
	g := &models.WorkflowGraph{
		Nodes: []*models.GraphNode{node("a", "trigger:webhook")},
		Edges: []*models.GraphEdge{edge("e1", "a", "missing")},
	}

	err := Validate(g)

	assert.ErrorIs(t, err, ErrUnknownEndpoint)

	g.Edges = []*models.GraphEdge{edge("e1", "missing", "a")}

	err = Validate(g)

	assert.ErrorIs(t, err, ErrUnknownEndpoint)
}

func TestValidate_RejectsCycle(t *testing.T) {
	g := &models.WorkflowGraph{
		Nodes: []*models.GraphNode{
			node("a", "trigger:webhook"),
			node("b", "action:http"),
			node("c", "action:email"),
		},
		Edges: []*models.GraphEdge{
			edge("e1", "a", "b"),
			edge("e2", "b", "c"),
			edge("e3", "c", "a"),
		},
	}

	err := Validate(g)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)

	var cycleErr *CycleError

	require.ErrorAs(t, err, &cycleErr)
	assert.NotEmpty(t, cycleErr.NodeID)
}

func TestValidate_AcceptsAcyclicAfterRemovingBackEdge(t *testing.T) {
	g := &models.WorkflowGraph{
		Nodes: []*models.GraphNode{
			node("a", "trigger:webhook"),
			node("b", "action:http"),
			node("c", "action:email"),
		},
		Edges: []*models.GraphEdge{
			edge("e1", "a", "b"),
			edge("e2", "b", "c"),
		},
	}

	assert.NoError(t, Validate(g))
	assert.NoError(t, ValidateForPublish(g))
}

func TestValidate_SelfLoop(t *testing.T) {
	g := &models.WorkflowGraph{
		Nodes: []*models.GraphNode{node("a", "action:http")},
		Edges: []*models.GraphEdge{edge("e1", "a", "a")},
	}

	err := Validate(g)

	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestValidate_DiamondIsNotACycle(t *testing.T) {
	// Two paths converging on the same node share a black node, which must
	// not be reported as a cycle.
	g := &models.WorkflowGraph{
		Nodes: []*models.GraphNode{
			node("a", "trigger:schedule"),
			node("b", "action:http"),
			node("c", "action:email"),
			node("d", "action:log"),
		},
		Edges: []*models.GraphEdge{
			edge("e1", "a", "b"),
			edge("e2", "a", "c"),
			edge("e3", "b", "d"),
			edge("e4", "c", "d"),
		},
	}

	assert.NoError(t, Validate(g))
}

func TestValidate_DisconnectedCycleIsStillDetected(t *testing.T) {
	g := &models.WorkflowGraph{
		Nodes: []*models.GraphNode{
			node("a", "trigger:webhook"),
			node("x", "action:http"),
			node("y", "action:email"),
		},
		Edges: []*models.GraphEdge{
			edge("e1", "x", "y"),
			edge("e2", "y", "x"),
		},
	}

	err := Validate(g)

	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestValidate_RequiresTriggerNode(t *testing.T) {
	g := &models.WorkflowGraph{
		Nodes: []*models.GraphNode{
			node("a", "action:http"),
			node("b", "action:email"),
		},
		Edges: []*models.GraphEdge{edge("e1", "a", "b")},
	}

	err := Validate(g)

	assert.ErrorIs(t, err, ErrNoTriggerNode)

	// A disabled trigger satisfies the save-time check; enabling it is a
	// publish concern.
	disabled := node("t", "trigger:webhook")
	disabled.IsEnabled = false
	g.Nodes = append(g.Nodes, disabled)

	assert.NoError(t, Validate(g))
	assert.ErrorIs(t, ValidateForPublish(g), ErrNoTriggerNode)
}

func TestValidateForPublish_RequiresEnabledTriggerNode(t *testing.T) {
	g := &models.WorkflowGraph{
		Nodes: []*models.GraphNode{
			node("a", "action:http"),
			node("b", "action:email"),
		},
		Edges: []*models.GraphEdge{edge("e1", "a", "b")},
	}

	err := ValidateForPublish(g)

	assert.ErrorIs(t, err, ErrNoTriggerNode)

	disabled := node("t", "trigger:webhook")
	disabled.IsEnabled = false
	g.Nodes = append(g.Nodes, disabled)

	err = ValidateForPublish(g)

	assert.ErrorIs(t, err, ErrNoTriggerNode)

	g.Nodes = append(g.Nodes, node("t2", "trigger:schedule"))

	assert.NoError(t, ValidateForPublish(g))
}
