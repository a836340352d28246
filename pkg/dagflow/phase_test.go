package dagflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// testNode is a minimal concrete Node for exercising the planner without
// pulling in builtin.go's push/pull semantics.
type testNode struct {
	BaseNode
}

func newTestNode() *testNode {
	n := &testNode{BaseNode: NewBaseNode()}
	n.Bind(n)
	return n
}

func TestPhaseOrderingRespectsDependsEdges(t *testing.T) {
	p1 := newTestNode()
	p2 := newTestNode()
	p3 := newTestNode()

	DependsOn(p2, p1)
	// p3 stays its own phase: no edges connect it to anything.
	p1.Token().Union(p3.Token())

	plan := PlanPhases(p1)
	require.Len(t, plan.Phases, 3)

	pos := make(map[NodeID]int)
	for i, phase := range plan.Phases {
		for _, id := range phase.Nodes {
			pos[id] = i
		}
	}
	require.Less(t, pos[p1.ID()], pos[p2.ID()], "P1 must execute before P2")

	for i, phase := range plan.Phases {
		if len(phase.Nodes) == 1 && phase.Nodes[0] == p2.ID() {
			require.False(t, phase.EvacuatePrevious, "P2 depends on P1 directly, no evacuation needed")
			_ = i
		}
	}
}

func TestPhaseEvacuatesUnrelatedPredecessor(t *testing.T) {
	a := newTestNode()
	b := newTestNode()
	c := newTestNode()

	// a and b are unrelated singleton phases; c depends on nothing and
	// forms its own third phase. With no depends edges at all, whichever
	// phase lands second must be flagged for evacuating its predecessor.
	a.Token().Union(b.Token())
	a.Token().Union(c.Token())

	plan := PlanPhases(a)
	require.Len(t, plan.Phases, 3)
	for i, phase := range plan.Phases {
		if i == 0 {
			require.False(t, phase.EvacuatePrevious)
			continue
		}
		require.True(t, phase.EvacuatePrevious, "no depends edge links adjacent unrelated phases")
	}
}

func TestPhaseCyclePanics(t *testing.T) {
	x := newTestNode()
	y := newTestNode()
	z := newTestNode()

	DependsOn(y, x)
	DependsOn(z, y)
	DependsOn(x, z)

	require.Panics(t, func() { PlanPhases(x) })
}
