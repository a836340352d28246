// Package dagflow implements the pipelining runtime from spec sections
// 4.5-4.7: a node graph built from union-find tokens, a phase planner that
// partitions the graph and topologically orders phases by depends edges,
// and a phase executor that assigns memory, runs lifecycle callbacks, and
// fans out progress. It is a structural port of
// original_source/tpie/pipelining/{tokens.h,graph.cpp}.
package dagflow

// preconditionViolation panics on an out-of-order lifecycle call, matching
// extsort's policy and spec section 7's precondition_violation row.
func preconditionViolation(msg string) {
	panic("dagflow: precondition violation: " + msg)
}

// phaseCyclePanic reports that depends edges induced a cycle among phases
// (spec section 7: phase_cycle, "fatal at planning time").
func phaseCyclePanic(msg string) {
	panic("dagflow: phase_cycle: " + msg)
}
