package engine

// OpKind identifies a batch operation
type OpKind uint8

const (
	OpSet OpKind = iota + 1
	OpDelete
	OpDeleteRange
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "Set"
	case OpDelete:
		return "Delete"
	case OpDeleteRange:
		return "DeleteRange"
	default:
		return "Unknown"
	}
}

// Op is a single batch operation. End is only used by OpDeleteRange ([Key, End)).
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
	End   []byte
}

// Batch collects operations that an Engine applies atomically.
// The batch keeps references to the passed slices, callers must not modify them until Apply returned.
// Thread-safety: A batch must not be used concurrently.
type Batch struct {
	ops  []Op
	size int
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Set(key, value []byte) {
	b.ops = append(b.ops, Op{Kind: OpSet, Key: key, Value: value})
	b.size += len(key) + len(value)
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Kind: OpDelete, Key: key})
	b.size += len(key)
}

func (b *Batch) DeleteRange(start, end []byte) {
	b.ops = append(b.ops, Op{Kind: OpDeleteRange, Key: start, End: end})
	b.size += len(start) + len(end)
}

// Ops returns the operations in the order engines must apply them:
// all range deletes first, then point operations in insertion order.
func (b *Batch) Ops() []Op {
	out := make([]Op, 0, len(b.ops))
	for _, op := range b.ops {
		if op.Kind == OpDeleteRange {
			out = append(out, op)
		}
	}
	for _, op := range b.ops {
		if op.Kind != OpDeleteRange {
			out = append(out, op)
		}
	}
	return out
}

// Len returns the number of operations
func (b *Batch) Len() int { return len(b.ops) }

// Size returns the number of key and value bytes in the batch
func (b *Batch) Size() int { return b.size }

func (b *Batch) Empty() bool { return len(b.ops) == 0 }

func (b *Batch) Reset() {
	b.ops = b.ops[:0]
	b.size = 0
}
