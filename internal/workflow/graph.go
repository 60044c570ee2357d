package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNoStartNode = errors.New("workflow: no start node found")
	ErrInvalidEdge = errors.New("workflow: invalid edge")
)

// Graph is a parsed process structure with adjacency indexes. Edges keep
// their document order so that gateway conditions evaluate
// first-match-wins.
type Graph struct {
	Structure *Structure

	nodes     map[string]*Node
	edgesOut  map[string][]*Edge
	edgesIn   map[string][]*Edge
	behaviors map[string]string
}

// ParseGraph decodes a structure document and indexes it.
func ParseGraph(raw json.RawMessage) (*Graph, error) {
	var s Structure
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to parse process structure: %w", err)
	}
	return NewGraph(&s)
}

// NewGraph indexes an already decoded structure.
func NewGraph(s *Structure) (*Graph, error) {
	g := &Graph{
		Structure: s,
		nodes:     make(map[string]*Node, len(s.Nodes)),
		edgesOut:  make(map[string][]*Edge, len(s.Edges)),
		edgesIn:   make(map[string][]*Edge, len(s.Edges)),
	}

	for i := range s.Nodes {
		n := &s.Nodes[i]
		g.nodes[n.ID] = n
	}

	for i := range s.Edges {
		e := &s.Edges[i]
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, fmt.Errorf("%w: source node %s not found", ErrInvalidEdge, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, fmt.Errorf("%w: target node %s not found", ErrInvalidEdge, e.Target)
		}
		g.edgesOut[e.Source] = append(g.edgesOut[e.Source], e)
		g.edgesIn[e.Target] = append(g.edgesIn[e.Target], e)
	}

	return g, nil
}

// UseNodeTypes resolves node behaviors through the node type catalog.
// Shapes without a catalog row keep the convention-based behavior from
// Node.Behavior.
func (g *Graph) UseNodeTypes(types []*NodeType) {
	if len(types) == 0 {
		return
	}
	g.behaviors = make(map[string]string, len(types))
	for _, nt := range types {
		g.behaviors[nt.ShapeName] = nt.Behavior
	}
}

// BehaviorOf classifies a node, preferring the node type catalog when
// one was supplied.
func (g *Graph) BehaviorOf(n *Node) string {
	if b, ok := g.behaviors[n.Data.Type]; ok {
		return b
	}
	return n.Behavior()
}

// Node returns a node by id, or nil.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// EdgesFrom returns the outgoing edges of a node in document order.
func (g *Graph) EdgesFrom(id string) []*Edge {
	return g.edgesOut[id]
}

// EdgesTo returns the incoming edges of a node in document order.
func (g *Graph) EdgesTo(id string) []*Edge {
	return g.edgesIn[id]
}

// Start returns the entry node: the event node whose subtype is
// "Start".
func (g *Graph) Start() (*Node, error) {
	for i := range g.Structure.Nodes {
		n := &g.Structure.Nodes[i]
		if g.BehaviorOf(n) == BehaviorEvent && n.EventType() == EventStart {
			return n, nil
		}
	}
	return nil, ErrNoStartNode
}

// Ancestors returns every node upstream of the given node, found by a
// reverse breadth-first walk over incoming edges.
func (g *Graph) Ancestors(id string) []*Node {
	seen := map[string]bool{id: true}
	queue := []string{id}
	var out []*Node

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.edgesIn[current] {
			if seen[e.Source] {
				continue
			}
			seen[e.Source] = true
			queue = append(queue, e.Source)
			if n := g.nodes[e.Source]; n != nil {
				out = append(out, n)
			}
		}
	}
	return out
}

// ValidationIssue is one problem found while validating a structure.
type ValidationIssue struct {
	NodeID  string `json:"node_id,omitempty"`
	Message string `json:"message"`
}

// Validate checks the structure for problems that would make it
// unexecutable: a missing start event, gateway nodes with no outgoing
// edges, and nodes unreachable from the start.
func (g *Graph) Validate() []ValidationIssue {
	var issues []ValidationIssue

	start, err := g.Start()
	if err != nil {
		issues = append(issues, ValidationIssue{
			Message: "workflow must have a start event node",
		})
	}

	for i := range g.Structure.Nodes {
		n := &g.Structure.Nodes[i]
		if g.BehaviorOf(n) == BehaviorGateway && len(g.edgesOut[n.ID]) == 0 {
			issues = append(issues, ValidationIssue{
				NodeID:  n.ID,
				Message: "gateway node has no outgoing edges",
			})
		}
	}

	if start != nil {
		reachable := map[string]bool{start.ID: true}
		queue := []string{start.ID}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, e := range g.edgesOut[current] {
				if !reachable[e.Target] {
					reachable[e.Target] = true
					queue = append(queue, e.Target)
				}
			}
		}
		for i := range g.Structure.Nodes {
			n := &g.Structure.Nodes[i]
			if !reachable[n.ID] {
				issues = append(issues, ValidationIssue{
					NodeID:  n.ID,
					Message: "node is unreachable from the start event",
				})
			}
		}
	}

	return issues
}
