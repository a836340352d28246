package dagflow

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/abigagli/tpie/internal/logutil"
	"github.com/abigagli/tpie/internal/metrics"
)

// Executor runs a Plan phase by phase (spec section 4.7): per phase it
// topologically prepares nodes, assigns memory proportionally, runs the
// begin/go/end lifecycle through the phase's initiator, and evacuates the
// previous phase when the plan calls for it.
type Executor struct {
	MemoryBudget int64
	Progress     Progress
	logger       *zap.Logger
}

// NewExecutor returns an Executor with the given total memory budget in
// bytes, used for the per-phase proportional memory assignment.
func NewExecutor(memoryBudget int64) *Executor {
	return &Executor{MemoryBudget: memoryBudget, Progress: NullProgress{}, logger: logutil.BgLogger()}
}

// Run executes every phase of plan in order.
func (e *Executor) Run(plan *Plan) error {
	progress := e.Progress
	if progress == nil {
		progress = NullProgress{}
	}
	for i, phase := range plan.Phases {
		phaseStart := time.Now()
		order := topoSortPhase(phase)

		for _, id := range order {
			if p, ok := phase.NodeAt(id).(Preparer); ok {
				if err := p.Prepare(); err != nil {
					return err
				}
			}
		}

		assignMemory(phase, e.MemoryBudget, e.logger)

		var totalSteps int64
		for _, id := range order {
			if s, ok := phase.NodeAt(id).(Stepper); ok {
				totalSteps += s.GetSteps()
			}
		}
		phaseProgress := progress.Sub(totalSteps, phase.Name())
		phaseProgress.Init(totalSteps)

		for _, id := range order {
			n := phase.NodeAt(id)
			if pr, ok := n.(ProgressReceiver); ok {
				pr.SetProgress(phaseProgress)
			}
			if b, ok := n.(Beginner); ok {
				if err := b.Begin(); err != nil {
					return err
				}
			}
		}

		var initiator Initiator
		for _, id := range order {
			if init, ok := phase.NodeAt(id).(Initiator); ok {
				initiator = init
				break
			}
		}
		if initiator != nil {
			if err := initiator.Go(); err != nil {
				return err
			}
		}

		for _, id := range order {
			if end, ok := phase.NodeAt(id).(Ender); ok {
				if err := end.End(); err != nil {
					return err
				}
			}
		}

		phaseProgress.Done()
		metrics.PhasesExecuted.Inc()
		metrics.PhaseDuration.WithLabelValues(phase.Name()).Observe(time.Since(phaseStart).Seconds())

		if i+1 < len(plan.Phases) && plan.Phases[i+1].EvacuatePrevious {
			for _, id := range order {
				n := phase.NodeAt(id)
				ce, ok := n.(CanEvacuator)
				if !ok || !ce.CanEvacuate() {
					continue
				}
				if ev, ok := n.(Evacuator); ok {
					if err := ev.Evacuate(); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

// topoSortPhase DFS-topologically sorts a phase's intra-phase successor
// DAG (executor step 1). Nodes are visited in ascending id order for
// determinism when multiple orderings are valid.
func topoSortPhase(phase *Phase) []NodeID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[NodeID]int, len(phase.Nodes))
	var order []NodeID
	var visit func(id NodeID)
	visit = func(id NodeID) {
		color[id] = gray
		next := append([]NodeID(nil), phase.Successors(id)...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, next := range next {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				phaseCyclePanic("cycle in intra-phase successor graph")
			}
		}
		color[id] = black
		order = append(order, id)
	}
	ids := append([]NodeID(nil), phase.Nodes...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if color[id] == white {
			visit(id)
		}
	}
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// assignMemory implements spec section 4.7 step 2: fix nodes whose minimum
// exceeds their proportional share at their minimum, iterating until
// stable, then distribute the remainder proportionally to the rest.
func assignMemory(phase *Phase, budget int64, logger *zap.Logger) {
	nodes := make([]Node, len(phase.Nodes))
	for i, id := range phase.Nodes {
		nodes[i] = phase.NodeAt(id)
	}

	var minSum int64
	for _, n := range nodes {
		minSum += n.MinMemory()
	}
	if budget < minSum {
		logger.Warn("dagflow: memory budget below sum of node minimums, assigning minimums",
			zap.Int64("budget", budget), zap.Int64("minSum", minSum))
		for _, n := range nodes {
			n.SetAssignedMemory(n.MinMemory())
		}
		return
	}

	var totalFraction float64
	for _, n := range nodes {
		totalFraction += n.MemoryFraction()
	}
	if totalFraction < 1e-9 {
		for _, n := range nodes {
			n.SetAssignedMemory(n.MinMemory())
		}
		return
	}

	fixed := make(map[NodeID]bool, len(nodes))
	remaining := budget
	fraction := totalFraction
	for {
		progressed := false
		for _, n := range nodes {
			if fixed[n.ID()] {
				continue
			}
			if fraction <= 0 {
				continue
			}
			share := n.MemoryFraction() / fraction * float64(remaining)
			if float64(n.MinMemory()) > share {
				n.SetAssignedMemory(n.MinMemory())
				fixed[n.ID()] = true
				remaining -= n.MinMemory()
				fraction -= n.MemoryFraction()
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}

	for _, n := range nodes {
		if fixed[n.ID()] {
			continue
		}
		if fraction <= 0 {
			n.SetAssignedMemory(n.MinMemory())
			continue
		}
		share := int64(n.MemoryFraction() / fraction * float64(remaining))
		n.SetAssignedMemory(share)
	}
}
