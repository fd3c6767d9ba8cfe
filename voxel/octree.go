package voxel

import (
	"fmt"
	"math/bits"
)

// OctantID indexes an octant inside the octree's arena.
type OctantID uint32

// NilOctant marks an empty octant reference.
const NilOctant OctantID = 0xffffffff

// LeafID describes a leaf's position inside the octree by storing the child's
// slot index inside its parent octant.
type LeafID struct {
	Parent OctantID
	Idx    uint8
}

// Position addresses a voxel inside an octree. Bit k (MSB-first) of each
// component selects the octant at layer k.
type Position struct {
	X, Y, Z uint32
}

func (p Position) idx() uint8 {
	return uint8(p.X + p.Y*2 + p.Z*4)
}

func (p Position) requiredDepth() uint8 {
	d := p.X
	if p.Y > d {
		d = p.Y
	}
	if p.Z > d {
		d = p.Z
	}
	if d < 1 {
		d = 1
	}
	return uint8(bits.Len32(d))
}

type childKind uint8

const (
	childNone childKind = iota
	childOctant
	childLeaf
)

type child[T any] struct {
	kind   childKind
	octant OctantID
	leaf   T
}

type octant[T any] struct {
	parent     OctantID
	parentIdx  uint8
	childCount uint8
	children   [8]child[T]
}

// setChild replaces slot idx and returns the previous slot content while
// keeping the octant's child count accurate.
func (o *octant[T]) setChild(idx uint8, c child[T]) child[T] {
	prev := o.children[idx]
	if prev.kind == childNone && c.kind != childNone {
		o.childCount++
	}
	if prev.kind != childNone && c.kind == childNone {
		o.childCount--
	}
	o.children[idx] = c
	return prev
}

// Octree subdivides three-dimensional space into octants. An octant holds up
// to 8 leaf values or 8 child octants that subdivide it further. All octants
// live in one flat arena slice and reference each other by index; released
// indices are recycled through a free list.
type Octree[T any] struct {
	root     OctantID
	octants  []octant[T]
	freeList []OctantID
	depth    uint8
}

// Create an empty octree.
func NewOctree[T any]() *Octree[T] {
	return NewOctreeWithCapacity[T](0)
}

// Create an empty octree with a pre-allocated arena.
func NewOctreeWithCapacity[T any](capacity int) *Octree[T] {
	return &Octree[T]{
		root:    NilOctant,
		octants: make([]octant[T], 0, capacity),
	}
}

// Reset clears all octants but keeps the arena's backing memory.
func (t *Octree[T]) Reset() {
	t.root = NilOctant
	t.octants = t.octants[:0]
	t.freeList = t.freeList[:0]
	t.depth = 0
}

// Depth returns the octree's current depth.
func (t *Octree[T]) Depth() uint8 {
	return t.depth
}

// SetLeaf adds the given leaf value at the given position. If the tree is not
// big enough yet, it is expanded. Returns the new LeafID that holds the leaf
// value, as well as any previous value that was overridden.
func (t *Octree[T]) SetLeaf(pos Position, leaf T) (LeafID, T, bool) {
	t.ExpandTo(pos.requiredDepth())

	it := t.root
	size := uint32(1) << t.depth

	for size >= 1 {
		size /= 2
		idx := (Position{pos.X / size, pos.Y / size, pos.Z / size}).idx()
		pos = Position{pos.X % size, pos.Y % size, pos.Z % size}

		if size == 1 {
			prev := t.octants[it].setChild(idx, child[T]{kind: childLeaf, leaf: leaf})
			return LeafID{Parent: it, Idx: idx}, prev.leaf, prev.kind == childLeaf
		}

		it = t.stepIntoOrCreateOctantAt(it, idx)
	}

	panic("octree: could not reach end of tree")
}

// GetLeaf returns the value of the leaf at the given position. The lookup is
// strict: it returns false if any octant along the path is empty or if the
// position is outside the current tree.
func (t *Octree[T]) GetLeaf(pos Position) (T, bool) {
	var zero T
	if t.root == NilOctant || pos.requiredDepth() > t.depth {
		return zero, false
	}

	it := t.root
	size := uint32(1) << t.depth

	for size > 0 {
		size /= 2
		idx := (Position{pos.X / size, pos.Y / size, pos.Z / size}).idx()
		pos = Position{pos.X % size, pos.Y % size, pos.Z % size}

		c := &t.octants[it].children[idx]
		switch c.kind {
		case childNone:
			return zero, false
		case childOctant:
			it = c.octant
		case childLeaf:
			return c.leaf, true
		}
	}

	return zero, false
}

// RemoveLeaf removes the leaf at the given position, if it exists. Octants
// that become fully empty through the removal are released up the chain, so
// their arena indices end up on the free list. Returns the removed value and
// its former LeafID.
func (t *Octree[T]) RemoveLeaf(pos Position) (T, LeafID, bool) {
	var zero T
	if t.root == NilOctant || pos.requiredDepth() > t.depth {
		return zero, LeafID{}, false
	}

	it := t.root
	size := uint32(1) << t.depth

	for size >= 1 {
		size /= 2
		idx := (Position{pos.X / size, pos.Y / size, pos.Z / size}).idx()
		pos = Position{pos.X % size, pos.Y % size, pos.Z % size}

		c := &t.octants[it].children[idx]
		switch c.kind {
		case childNone:
			return zero, LeafID{}, false
		case childOctant:
			it = c.octant
		case childLeaf:
			prev := t.octants[it].setChild(idx, child[T]{})
			t.releaseEmptyChain(it)
			return prev.leaf, LeafID{Parent: it, Idx: idx}, true
		}
	}

	return zero, LeafID{}, false
}

// RemoveLeafByID removes the leaf for the given LeafID and returns its value.
// Unlike RemoveLeaf, emptied parents are kept so that other LeafIDs stay
// valid; Compact reclaims them.
func (t *Octree[T]) RemoveLeafByID(id LeafID) (T, bool) {
	var zero T
	c := &t.octants[id.Parent].children[id.Idx]
	if c.kind != childLeaf {
		return zero, false
	}
	prev := t.octants[id.Parent].setChild(id.Idx, child[T]{})
	return prev.leaf, true
}

// MoveLeaf moves the leaf at the given LeafID to the given position. The
// original slot becomes empty. It returns the new LeafID at the given
// position, as well as the overridden leaf value at the target, if any.
func (t *Octree[T]) MoveLeaf(id LeafID, toPos Position) (LeafID, T, bool) {
	var zero T
	t.ExpandTo(toPos.requiredDepth())

	it := t.root
	pos := toPos
	size := uint32(1) << t.depth

	for size >= 1 {
		size /= 2
		idx := (Position{pos.X / size, pos.Y / size, pos.Z / size}).idx()
		pos = Position{pos.X % size, pos.Y % size, pos.Z % size}

		if size == 1 {
			// moving a leaf onto itself is a no-op
			if it == id.Parent && idx == id.Idx {
				return id, zero, false
			}

			old := t.octants[it].setChild(idx, child[T]{})
			moved := t.octants[id.Parent].setChild(id.Idx, child[T]{})
			if moved.kind == childLeaf {
				t.octants[it].setChild(idx, moved)
			}

			newID := LeafID{Parent: it, Idx: idx}
			if old.kind == childLeaf {
				return newID, old.leaf, true
			}
			if old.kind == childOctant {
				panic("octree: found unexpected octant")
			}
			return newID, zero, false
		}

		it = t.stepIntoOrCreateOctantAt(it, idx)
	}

	panic("octree: could not reach end of tree")
}

func (t *Octree[T]) stepIntoOrCreateOctantAt(it OctantID, idx uint8) OctantID {
	c := &t.octants[it].children[idx]
	switch c.kind {
	case childNone:
		next := t.newOctant(it, idx)
		t.octants[it].setChild(idx, child[T]{kind: childOctant, octant: next})
		return next
	case childOctant:
		return c.octant
	default:
		panic("octree: found unexpected leaf")
	}
}

// Expand grows the octree's depth by the given value. The existing root
// octant is wrapped in new parent octants, occupying child slot 0.
func (t *Octree[T]) Expand(by uint8) {
	for i := uint8(0); i < by; i++ {
		newRoot := t.newOctant(NilOctant, 0)

		if t.root != NilOctant {
			t.octants[t.root].parent = newRoot
			t.octants[t.root].parentIdx = 0
			t.octants[newRoot].setChild(0, child[T]{kind: childOctant, octant: t.root})
		}

		t.root = newRoot
	}
	t.depth += by
}

// ExpandTo grows the octree's depth to be equal to the given value. If the
// depth is already larger, nothing happens.
func (t *Octree[T]) ExpandTo(to uint8) {
	if t.depth >= to && t.root != NilOctant {
		return
	}
	if to > t.depth {
		t.Expand(to - t.depth)
	}
}

// Compact releases all octants from the tree that have no children and no
// content. Removal is depth first, so it cascades through the whole tree. A
// fully empty tree is reset.
func (t *Octree[T]) Compact() {
	if t.root == NilOctant {
		return
	}

	t.compactOctant(t.root)

	if t.octants[t.root].childCount == 0 {
		t.Reset()
	}
}

func (t *Octree[T]) compactOctant(id OctantID) {
	for i := uint8(0); i < 8; i++ {
		c := t.octants[id].children[i]
		if c.kind != childOctant {
			continue
		}

		t.compactOctant(c.octant)

		if t.octants[c.octant].childCount == 0 {
			t.releaseOctant(c.octant)
			t.octants[id].setChild(i, child[T]{})
		}
	}
}

// releaseEmptyChain walks from the given octant towards the root and releases
// every octant that was left without children. The root octant is kept.
func (t *Octree[T]) releaseEmptyChain(id OctantID) {
	for id != t.root && t.octants[id].childCount == 0 {
		parent := t.octants[id].parent
		idx := t.octants[id].parentIdx
		t.octants[parent].setChild(idx, child[T]{})
		t.releaseOctant(id)
		id = parent
	}
}

// newOctant returns either an available octant from the free list, or
// allocates a new one at the end of the arena.
func (t *Octree[T]) newOctant(parent OctantID, parentIdx uint8) OctantID {
	if n := len(t.freeList); n > 0 {
		id := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.octants[id].parent = parent
		t.octants[id].parentIdx = parentIdx
		return id
	}

	id := OctantID(len(t.octants))
	t.octants = append(t.octants, octant[T]{parent: parent, parentIdx: parentIdx})
	return id
}

// releaseOctant resets the given octant and pushes its index onto the free
// list. The slot must not be referenced by any live octant afterwards.
func (t *Octree[T]) releaseOctant(id OctantID) {
	o := &t.octants[id]
	o.parent = NilOctant
	o.parentIdx = 0
	o.childCount = 0
	for i := range o.children {
		o.children[i] = child[T]{}
	}
	t.freeList = append(t.freeList, id)
}

// Child describes the content of one octant slot to external walkers, such
// as the serializers.
type Child[T any] struct {
	Octant OctantID
	Leaf   T
	IsLeaf bool
}

// Root returns the root octant's arena index, or NilOctant for an empty tree.
func (t *Octree[T]) Root() OctantID {
	return t.root
}

// Child returns the content of slot idx of the given octant. The second
// return value is false for empty slots.
func (t *Octree[T]) Child(id OctantID, idx uint8) (Child[T], bool) {
	c := &t.octants[id].children[idx]
	switch c.kind {
	case childOctant:
		return Child[T]{Octant: c.octant}, true
	case childLeaf:
		return Child[T]{Octant: NilOctant, Leaf: c.leaf, IsLeaf: true}, true
	default:
		return Child[T]{}, false
	}
}

// LeafAt returns the leaf value stored at the given LeafID.
func (t *Octree[T]) LeafAt(id LeafID) (T, bool) {
	var zero T
	c := &t.octants[id.Parent].children[id.Idx]
	if c.kind != childLeaf {
		return zero, false
	}
	return c.leaf, true
}

// CheckConsistency verifies that the set of arena indices reachable from the
// root is disjoint from the free list and that, together, they cover the
// whole arena. It also verifies parent back-references. Any violation is
// returned as an error; a nil result means all invariants hold.
func (t *Octree[T]) CheckConsistency() error {
	reachable := make(map[OctantID]bool)
	if t.root != NilOctant {
		var walk func(id OctantID) error
		walk = func(id OctantID) error {
			if reachable[id] {
				return fmt.Errorf("octant %d is reachable through more than one parent", id)
			}
			reachable[id] = true
			for i := uint8(0); i < 8; i++ {
				c := t.octants[id].children[i]
				if c.kind != childOctant {
					continue
				}
				co := &t.octants[c.octant]
				if co.parent != id || co.parentIdx != i {
					return fmt.Errorf("octant %d has wrong back-reference (parent=%d idx=%d, want parent=%d idx=%d)",
						c.octant, co.parent, co.parentIdx, id, i)
				}
				if err := walk(c.octant); err != nil {
					return err
				}
			}
			return nil
		}
		if err := walk(t.root); err != nil {
			return err
		}
	}

	free := make(map[OctantID]bool)
	for _, id := range t.freeList {
		if free[id] {
			return fmt.Errorf("octant %d appears twice on the free list", id)
		}
		if reachable[id] {
			return fmt.Errorf("octant %d is both reachable and on the free list", id)
		}
		free[id] = true
	}

	if len(reachable)+len(free) != len(t.octants) {
		return fmt.Errorf("arena holds %d octants but %d are reachable and %d are free",
			len(t.octants), len(reachable), len(free))
	}
	return nil
}
