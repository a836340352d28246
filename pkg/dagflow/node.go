package dagflow

// Node is the common identity every pipeline participant carries (spec
// section 3: "a stable identity, a name with priority, a nominal memory
// fraction, a minimum memory requirement, and a behavioral capability
// set"). The capability set itself is expressed as optional interfaces
// below rather than methods on Node, since only some variants implement
// each one.
type Node interface {
	Token() Token
	ID() NodeID
	Name() string
	NamePriority() int
	SetName(name string, priority int)
	MemoryFraction() float64
	MinMemory() int64
	AssignedMemory() int64
	SetAssignedMemory(bytes int64)
}

// Preparer nodes run before memory assignment in topological order within
// their phase (executor step 1).
type Preparer interface {
	Prepare() error
}

// Beginner nodes run begin() before the phase's initiator starts.
type Beginner interface {
	Begin() error
}

// Ender nodes run end() after the phase's initiator finishes.
type Ender interface {
	End() error
}

// Initiator nodes have no input edges and drive a phase's execution via
// Go(); every phase has exactly one.
type Initiator interface {
	Go() error
}

// Pusher nodes accept items pushed from an upstream node.
type Pusher interface {
	Push(v any) error
}

// Puller nodes produce items for a downstream node to consume.
type Puller interface {
	Pull() (any, error)
}

// CanPuller nodes can report whether Pull has more items, mirroring
// extsort.Sorter's CanPull/Pull split.
type CanPuller interface {
	CanPull() bool
}

// Evacuator nodes can release buffered memory between phases.
type Evacuator interface {
	Evacuate() error
}

// CanEvacuator nodes report whether Evacuate currently makes sense.
type CanEvacuator interface {
	CanEvacuate() bool
}

// Stepper nodes report a nominal step count used to weight progress.
type Stepper interface {
	GetSteps() int64
}

// ProgressReceiver nodes accept the per-phase progress sub-indicator the
// executor attaches during begin (spec section 4.7 step 3).
type ProgressReceiver interface {
	SetProgress(p Progress)
}

// TypeNamer nodes report a stable type name used to build a phase's
// UniqueID (EXT-4, porting phase::get_unique_id).
type TypeNamer interface {
	TypeName() string
}

// BaseNode is the embeddable identity/bookkeeping block every concrete
// node type composes, mirroring the teacher's pattern of small embeddable
// structs carrying shared state (e.g. its backend.Backend base types).
type BaseNode struct {
	token          Token
	name           string
	namePriority   int
	memoryFraction float64
	minMemory      int64
	assignedMemory int64
}

// NewBaseNode returns a BaseNode holding a fresh token. Callers must call
// Bind(self) immediately after embedding it in a concrete node value, so
// the token's map can look the node back up during planning.
func NewBaseNode() BaseNode {
	return BaseNode{token: NewToken(), memoryFraction: 1}
}

// Bind associates this node's token with n, the concrete node embedding
// this BaseNode.
func (b *BaseNode) Bind(n Node) { b.token.Bind(n) }

func (b *BaseNode) Token() Token  { return b.token }
func (b *BaseNode) ID() NodeID    { return b.token.ID() }
func (b *BaseNode) Name() string { return b.name }

func (b *BaseNode) NamePriority() int { return b.namePriority }

// SetName keeps the highest-priority name contributed so far, porting
// pipe_segment::set_name's "highest priority wins" rule (EXT-4).
func (b *BaseNode) SetName(name string, priority int) {
	if b.name == "" || priority >= b.namePriority {
		b.name = name
		b.namePriority = priority
	}
}

func (b *BaseNode) MemoryFraction() float64 { return b.memoryFraction }

// SetMemoryFraction sets the node's nominal share of a phase's memory
// budget, used by the executor's proportional-assignment loop.
func (b *BaseNode) SetMemoryFraction(f float64) { b.memoryFraction = f }

func (b *BaseNode) MinMemory() int64 { return b.minMemory }

// SetMinMemory sets the node's hard minimum memory requirement.
func (b *BaseNode) SetMinMemory(n int64) { b.minMemory = n }

func (b *BaseNode) AssignedMemory() int64 { return b.assignedMemory }

func (b *BaseNode) SetAssignedMemory(n int64) { b.assignedMemory = n }
