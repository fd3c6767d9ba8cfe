package voxel

// ZOrderSource yields leaf values in Z-order (Morton) sequence at the finest
// depth of the octree under construction. The second return value reports
// whether the voxel is present; absent voxels leave their slot empty. Sources
// that run out of values before 8^depth voxels were consumed are padded with
// empty slots.
type ZOrderSource[T any] func() (T, bool)

// BuildZOrder constructs an octree of the given depth from a dense Z-order
// enumeration in a single bottom-up pass. Eight consecutive values form one
// octant; octants without any content are omitted from their parent, so the
// resulting tree has no dead branches. Morton bit order matches Position
// addressing: bit 0 selects X, bit 1 Y, bit 2 Z.
//
// Supplying more than 8^depth values is a programming error and panics.
func BuildZOrder[T any](depth uint8, next ZOrderSource[T]) *Octree[T] {
	if depth == 0 {
		panic("zorder: depth must be at least 1")
	}

	tree := NewOctree[T]()
	exhausted := false

	// pull wraps the source so that an early end pads the remainder of the
	// enumeration with empty slots.
	pull := func() (T, bool) {
		var zero T
		if exhausted {
			return zero, false
		}
		v, ok := next()
		if !ok {
			exhausted = true
			return zero, false
		}
		return v, true
	}

	root := buildZOrderOctant(tree, depth, pull)
	if root != NilOctant {
		tree.root = root
		tree.depth = depth
	}

	if !exhausted {
		if _, ok := next(); ok {
			panic("zorder: source yielded more than 8^depth values")
		}
	}

	return tree
}

// buildZOrderOctant consumes the 8^level values covering one octant and
// returns the octant's arena index, or NilOctant if the whole region was
// empty. Children are filled in Morton order, which is exactly slot order.
func buildZOrderOctant[T any](tree *Octree[T], level uint8, pull func() (T, bool)) OctantID {
	parent := NilOctant

	for i := uint8(0); i < 8; i++ {
		if level > 1 {
			childID := buildZOrderOctant(tree, level-1, pull)
			if childID == NilOctant {
				continue
			}

			if parent == NilOctant {
				parent = tree.newOctant(NilOctant, 0)
			}
			tree.octants[parent].setChild(i, child[T]{kind: childOctant, octant: childID})
			tree.octants[childID].parent = parent
			tree.octants[childID].parentIdx = i
			continue
		}

		v, ok := pull()
		if !ok {
			continue
		}
		if parent == NilOctant {
			parent = tree.newOctant(NilOctant, 0)
		}
		tree.octants[parent].setChild(i, child[T]{kind: childLeaf, leaf: v})
	}

	return parent
}

// ZOrderFromDense adapts a dense slice in x-fastest layout (index = x + y*side
// + z*side*side) into a Z-order source for BuildZOrder. Values equal to the
// zero value of T are treated as empty.
func ZOrderFromDense[T comparable](side uint32, data []T) ZOrderSource[T] {
	var zero T
	var i uint64
	total := uint64(side) * uint64(side) * uint64(side)

	return func() (T, bool) {
		if i >= total {
			return zero, false
		}
		x, y, z := mortonDecode(i)
		i++
		v := data[x+y*side+z*side*side]
		if v == zero {
			return zero, false
		}
		return v, true
	}
}

// mortonDecode splits an interleaved Morton index into its three coordinate
// components (bit 0 = X, bit 1 = Y, bit 2 = Z).
func mortonDecode(m uint64) (x, y, z uint32) {
	for b := uint(0); b < 21; b++ {
		x |= uint32(m>>(3*b)&1) << b
		y |= uint32(m>>(3*b+1)&1) << b
		z |= uint32(m>>(3*b+2)&1) << b
	}
	return
}
