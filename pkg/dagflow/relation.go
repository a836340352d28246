package dagflow

// Connect unions from's and to's maps and records a kind edge from from to
// to (spec section 4.5: relation declaration plus the map union it
// implies). Composition helpers in builtin.go call this when wiring two
// nodes together.
func Connect(kind RelationKind, from, to Node) {
	from.Token().Union(to.Token())
	from.Token().AddRelation(kind, to.Token())
}

// PushTo declares that from pushes items into to.
func PushTo(from, to Node) { Connect(RelPush, from, to) }

// PullFrom declares that from pulls items from to.
func PullFrom(from, to Node) { Connect(RelPull, from, to) }

// DependsOn declares that dependent's phase runs only after dependency's
// phase has finished, with no data movement implied (spec section 4.5:
// "edges of kind... depends to another node"). The planner schedules the
// dependency's phase first.
func DependsOn(dependent, dependency Node) { Connect(RelDepends, dependent, dependency) }
