package dagflow

import (
	"fmt"
	"sort"
)

// Phase is an equivalence class of nodes connected by push/pull edges
// (spec section 4.6). It carries its nodes, the intra-phase successor DAG
// built from those same push/pull edges, and whether the phase that
// precedes it in execution order is evacuated before it runs.
type Phase struct {
	Index            int
	Nodes            []NodeID
	nodeByID         map[NodeID]Node
	successors       map[NodeID][]NodeID
	EvacuatePrevious bool
}

// Name reports the phase's display name: the name of the node with the
// highest priority among its members, porting phase::get_name (EXT-4).
func (p *Phase) Name() string {
	best := ""
	bestPriority := -1
	for _, id := range p.Nodes {
		n := p.nodeByID[id]
		if n.Name() == "" {
			continue
		}
		if n.NamePriority() > bestPriority {
			best = n.Name()
			bestPriority = n.NamePriority()
		}
	}
	return best
}

// UniqueID concatenates the type names of every node in the phase in
// stable node-id order, porting phase::get_unique_id (EXT-4).
func (p *Phase) UniqueID() string {
	id := ""
	for _, nid := range p.Nodes {
		n := p.nodeByID[nid]
		if tn, ok := n.(TypeNamer); ok {
			id += tn.TypeName()
		} else {
			id += fmt.Sprintf("%T", n)
		}
	}
	return id
}

// Successors returns the intra-phase DAG edges out of id, built from the
// push/pull relations whose endpoints both fall in this phase.
func (p *Phase) Successors(id NodeID) []NodeID { return p.successors[id] }

// NodeAt resolves a node id to its Node within this phase.
func (p *Phase) NodeAt(id NodeID) Node { return p.nodeByID[id] }

// Plan is the output of PlanPhases: phases in execution order.
type Plan struct {
	Phases []*Phase
}

type phaseUF struct{ parent map[NodeID]NodeID }

func newPhaseUF(ids []NodeID) *phaseUF {
	u := &phaseUF{parent: make(map[NodeID]NodeID, len(ids))}
	for _, id := range ids {
		u.parent[id] = id
	}
	return u
}

func (u *phaseUF) find(id NodeID) NodeID {
	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for id != root {
		id, u.parent[id] = u.parent[id], root
	}
	return root
}

func (u *phaseUF) union(a, b NodeID) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// PlanPhases groups every node reachable from start's node map into phases
// and topologically orders those phases by their depends edges (spec
// section 4.6, steps 1-4). It panics with phase_cycle if the depends edges
// among phases form a cycle.
func PlanPhases(start Node) *Plan {
	m := start.Token().authoritativeMap()

	ids := make([]NodeID, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	uf := newPhaseUF(ids)
	for _, rel := range m.relations {
		if rel.Kind != RelDepends {
			uf.union(rel.From, rel.To)
		}
	}

	rootToPhase := make(map[NodeID]int)
	var phases []*Phase
	for _, id := range ids {
		root := uf.find(id)
		idx, ok := rootToPhase[root]
		if !ok {
			idx = len(phases)
			rootToPhase[root] = idx
			phases = append(phases, &Phase{
				Index:      idx,
				nodeByID:   make(map[NodeID]Node),
				successors: make(map[NodeID][]NodeID),
			})
		}
		phases[idx].Nodes = append(phases[idx].Nodes, id)
		phases[idx].nodeByID[id] = m.nodes[id]
	}

	// For a depends relation, rel.From is the dependent node and rel.To is
	// its dependency: the dependency's phase must be scheduled before the
	// dependent's phase. phaseEdges records the relation's own
	// (dependent-phase, dependency-phase) pairing, used below to test
	// "does this phase depend directly on the one before it"; the DFS
	// adjacency below walks the opposite direction, since the dependency
	// must finish first.
	type edge struct{ from, to int }
	edgeSet := make(map[edge]bool)
	var phaseEdges []edge
	for _, rel := range m.relations {
		fromPhase := rootToPhase[uf.find(rel.From)]
		toPhase := rootToPhase[uf.find(rel.To)]
		if rel.Kind != RelDepends {
			if fromPhase == toPhase {
				phases[fromPhase].successors[rel.From] = append(phases[fromPhase].successors[rel.From], rel.To)
			}
			continue
		}
		if fromPhase == toPhase {
			continue
		}
		e := edge{fromPhase, toPhase}
		if !edgeSet[e] {
			edgeSet[e] = true
			phaseEdges = append(phaseEdges, e)
		}
	}

	adj := make(map[int][]int, len(phases))
	for _, e := range phaseEdges {
		adj[e.to] = append(adj[e.to], e.from)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(phases))
	var order []int
	var visit func(u int)
	visit = func(u int) {
		color[u] = gray
		next := append([]int(nil), adj[u]...)
		sort.Ints(next)
		for _, v := range next {
			switch color[v] {
			case white:
				visit(v)
			case gray:
				phaseCyclePanic(fmt.Sprintf("depends edge from phase %d back to phase %d", u, v))
			}
		}
		color[u] = black
		order = append(order, u)
	}
	for i := range phases {
		if color[i] == white {
			visit(i)
		}
	}
	// order is a DFS finish-time postorder (increasing finish time), with
	// dependents appearing before their dependencies; a topological order
	// is decreasing finish time (Cormen et al.), so reverse it and
	// dependencies run first.
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}

	dependsFrom := make(map[edge]bool, len(phaseEdges))
	for _, e := range phaseEdges {
		dependsFrom[e] = true
	}

	orderedPhases := make([]*Phase, len(order))
	for pos, phaseIdx := range order {
		orderedPhases[pos] = phases[phaseIdx]
	}
	for pos := range orderedPhases {
		orderedPhases[pos].Index = pos
	}
	for pos := 1; pos < len(order); pos++ {
		cur := order[pos]
		prev := order[pos-1]
		// evacuate_previous is false exactly when the current phase
		// declares a direct dependency on the one immediately before it:
		// the preceding phase is then a guaranteed producer, not an
		// incidental neighbor in execution order, so its buffers stay.
		orderedPhases[pos].EvacuatePrevious = !dependsFrom[edge{cur, prev}]
	}

	for _, p := range orderedPhases {
		sort.Slice(p.Nodes, func(i, j int) bool { return p.Nodes[i] < p.Nodes[j] })
	}

	return &Plan{Phases: orderedPhases}
}
