package trace

import (
	"math"

	"github.com/tim-oster/voxel-go/types"
)

// This package holds the CPU reference implementation of the octree
// traversal. The GPU program must agree with it on the buffer layout and on
// every observable output; the algorithm is the "Efficient Sparse Voxel
// Octrees" traversal by Laine & Karras, without contours and extended with
// leaf shading, translucency handling and dynamic buffer updates.

// maxScale is the coarsest octant scale. The octree spans [1,2) in float
// space so the mantissa of a position directly encodes the octant path;
// scale s octants have edge length 2^(s-23).
const maxScale = 22

// stackDepth bounds PUSH/POP nesting; a scale popping to >= 23 has left the
// octree.
const stackDepth = 23

// DefaultMaxSteps bounds the traversal loop per ray.
const DefaultMaxSteps = 1000

// rayEpsilon is the smallest representable direction component and the
// in-leaf clamping margin, in normalized units.
var rayEpsilon = float32(math.Exp2(-23))

// Options tune a Raytracer.
type Options struct {
	// MaxSteps bounds the traversal loop; 0 selects DefaultMaxSteps.
	MaxSteps int
}

// Input is one ray cast request. Positions are in block units of SVO space.
type Input struct {
	// MaxDst bounds the ray length in block units; negative means
	// unbounded.
	MaxDst float32
	// CastTranslucent makes the ray pass through translucent texels and
	// collapse runs of identical adjacent leaves into one hit.
	CastTranslucent bool

	Pos types.Vec3
	Dir types.Vec3
}

// Result describes a traversal outcome. T is -1 on miss.
type Result struct {
	T           float32
	Value       uint32
	FaceID      int32
	Pos         types.Vec3
	UV          types.Vec2
	Color       types.Vec4
	InsideVoxel bool
}

func miss(insideVoxel bool) Result {
	return Result{T: -1, InsideVoxel: insideVoxel}
}

// Raytracer casts rays against serialized SVO buffers.
type Raytracer struct {
	materials []Material
	oracle    TextureOracle
	maxSteps  int
}

// NewRaytracer creates a raytracer over the given material table. The
// oracle may be nil, in which case every leaf shades opaque black.
func NewRaytracer(materials []Material, oracle TextureOracle, opts Options) *Raytracer {
	steps := opts.MaxSteps
	if steps <= 0 {
		steps = DefaultMaxSteps
	}
	return &Raytracer{materials: materials, oracle: oracle, maxSteps: steps}
}

// descriptor holds an octant's child and leaf masks, carried along during
// traversal because a node stores the descriptors of its children, not its
// own.
type descriptor struct {
	childMask uint8
	leafMask  uint8
}

// nodeHandle addresses one octant's node data inside a serialized buffer.
// The format implementations define the meaning of its fields.
type nodeHandle struct {
	ptr     uint32
	level   int8
	matBase uint32
}

// format decodes one serialized SVO variant during traversal.
type format interface {
	// root returns the handle and descriptor of the root octant.
	root() (nodeHandle, descriptor)
	// child resolves child c of the octant at h for a PUSH, returning the
	// child's handle and descriptor.
	child(h nodeHandle, c uint8) (nodeHandle, descriptor)
	// leafValue reads the voxel value of leaf child c of the octant at h.
	leafValue(h nodeHandle, c uint8) uint32
}

type stackEntry struct {
	handle nodeHandle
	desc   descriptor
	tMax   float32
}

// cast runs the traversal loop over the given format. octreeScale is the
// edge length of one voxel in [0,1) space, i.e. 2^-depth.
func (rt *Raytracer) cast(f format, octreeScale float32, in Input) Result {
	// Rescale so the octree spans [1,2): the position's mantissa then
	// encodes the octant path at every scale.
	ro := types.XYZ(
		in.Pos[0]*octreeScale+1,
		in.Pos[1]*octreeScale+1,
		in.Pos[2]*octreeScale+1,
	)
	maxDst := in.MaxDst
	if maxDst >= 0 {
		maxDst *= octreeScale
	}

	// Degenerate direction components would divide by zero; clamp them to
	// the smallest representable value, keeping the sign bit.
	d := in.Dir
	for i := 0; i < 3; i++ {
		if absf(d[i]) < rayEpsilon {
			d[i] = copysignf(rayEpsilon, d[i])
		}
	}

	var tCoef, tBias types.Vec3
	for i := 0; i < 3; i++ {
		tCoef[i] = 1.0 / -absf(d[i])
		tBias[i] = tCoef[i] * ro[i]
	}

	// Mirror all positive directions to negative ones. pos decreases
	// monotonically afterwards, which is what makes the float truncation
	// in POP work.
	octantMask := uint8(0)
	for i := 0; i < 3; i++ {
		if d[i] > 0 {
			octantMask ^= 1 << i
			tBias[i] = 3*tCoef[i] - tBias[i]
		}
	}

	tMin := maxf(maxf(2*tCoef[0]-tBias[0], 2*tCoef[1]-tBias[1]), 2*tCoef[2]-tBias[2])
	tMax := minf(minf(tCoef[0]-tBias[0], tCoef[1]-tBias[1]), tCoef[2]-tBias[2])
	if tMin < 0 {
		tMin = 0
	}
	h := tMax

	parent, desc := f.root()

	idx := uint8(0)
	pos := types.XYZ(1, 1, 1)
	scale := maxScale
	scaleExp2 := float32(0.5)
	for i := 0; i < 3; i++ {
		if 1.5*tCoef[i]-tBias[i] > tMin {
			idx ^= 1 << i
			pos[i] = 1.5
		}
	}

	var stack [stackDepth]stackEntry

	insideVoxel := false
	pendingActive := false
	var pendingValue uint32
	var pendingExit float32

	for step := 0; step < rt.maxSteps; step++ {
		if maxDst >= 0 && tMin > maxDst {
			return miss(insideVoxel)
		}

		var tCorner types.Vec3
		for i := 0; i < 3; i++ {
			tCorner[i] = pos[i]*tCoef[i] - tBias[i]
		}
		tcMax := minf(minf(tCorner[0], tCorner[1]), tCorner[2])

		octantIdx := idx ^ octantMask
		isChild := desc.childMask&(1<<octantIdx) != 0
		isLeaf := desc.leafMask&(1<<octantIdx) != 0

		if isChild && tMin <= tMax {
			tvMax := minf(tMax, tcMax)
			half := scaleExp2 * 0.5

			if isLeaf {
				if tMin > 0 {
					hit, done := rt.shadeLeaf(f, parent, octantIdx, in, d, octreeScale,
						pos, scaleExp2, tCoef, tBias, tMin, tcMax, octantMask,
						&pendingActive, &pendingValue, &pendingExit, insideVoxel, maxDst)
					if done {
						return hit
					}
				} else {
					insideVoxel = true
				}
				// fall through to ADVANCE past the leaf
			} else if tMin <= tvMax {
				// PUSH
				if tcMax < h {
					stack[scale] = stackEntry{handle: parent, desc: desc, tMax: tMax}
				}
				h = tcMax

				parent, desc = f.child(parent, octantIdx)

				idx = 0
				scale--
				scaleExp2 = half
				for i := 0; i < 3; i++ {
					if half*tCoef[i]+tCorner[i] > tMin {
						idx ^= 1 << i
						pos[i] += scaleExp2
					}
				}

				tMax = tvMax
				continue
			}
		}

		// ADVANCE
		stepMask := uint8(0)
		for i := 0; i < 3; i++ {
			if tCorner[i] <= tcMax {
				stepMask ^= 1 << i
				pos[i] -= scaleExp2
			}
		}

		tMin = tcMax
		idx ^= stepMask

		if idx&stepMask != 0 {
			// POP: find the highest bit that differs between the old and
			// new position on any stepped axis; it names the scale the
			// ray exited. Mirroring made pos monotone, so the truncation
			// below is a pure bit shift.
			differingBits := uint32(0)
			for i := 0; i < 3; i++ {
				if stepMask&(1<<i) != 0 {
					differingBits |= math.Float32bits(pos[i]) ^ math.Float32bits(pos[i]+scaleExp2)
				}
			}
			scale = int(math.Float32bits(float32(differingBits))>>23) - 127
			if scale >= stackDepth {
				return miss(insideVoxel)
			}
			scaleExp2 = math.Float32frombits(uint32(scale-stackDepth+127) << 23)

			entry := stack[scale]
			parent = entry.handle
			desc = entry.desc
			tMax = entry.tMax

			// truncate pos to the recovered scale and reconstruct idx
			// from the bit right at it
			shx := math.Float32bits(pos[0]) >> uint(scale)
			shy := math.Float32bits(pos[1]) >> uint(scale)
			shz := math.Float32bits(pos[2]) >> uint(scale)
			pos[0] = math.Float32frombits(shx << uint(scale))
			pos[1] = math.Float32frombits(shy << uint(scale))
			pos[2] = math.Float32frombits(shz << uint(scale))
			idx = uint8(shx&1) | uint8(shy&1)<<1 | uint8(shz&1)<<2

			h = 0
		}
	}

	return miss(insideVoxel)
}

// shadeLeaf evaluates a leaf the ray reached. It either produces the final
// hit (done=true) or consumes the leaf as part of a translucent run.
func (rt *Raytracer) shadeLeaf(f format, parent nodeHandle, octantIdx uint8, in Input, d types.Vec3,
	octreeScale float32, pos types.Vec3, scaleExp2 float32, tCoef, tBias types.Vec3,
	tMin, tcMax float32, octantMask uint8,
	pendingActive *bool, pendingValue *uint32, pendingExit *float32,
	insideVoxel bool, maxDst float32) (Result, bool) {

	value := f.leafValue(parent, octantIdx)

	// a gap in the ray's path breaks a translucent run
	if *pendingActive && tMin > *pendingExit+rayEpsilon {
		*pendingActive = false
	}
	if *pendingActive && value == *pendingValue {
		*pendingExit = tcMax
		return Result{}, false
	}

	// entry t of the leaf: the last entry plane the ray crossed
	var tv types.Vec3
	for i := 0; i < 3; i++ {
		tv[i] = (pos[i]+scaleExp2)*tCoef[i] - tBias[i]
	}
	t := maxf(maxf(tv[0], tv[1]), tv[2])
	axis := int32(0)
	if tv[1] == t {
		axis = 1
	}
	if tv[2] == t {
		axis = 2
	}

	if maxDst >= 0 && t > maxDst {
		return miss(insideVoxel), true
	}

	face := axis * 2
	if d[axis] < 0 {
		face++
	}

	// unmirror the leaf's lower corner; mirrored axes flip around 1.5
	var leafMin types.Vec3
	for i := 0; i < 3; i++ {
		if octantMask&(1<<i) != 0 {
			leafMin[i] = 3 - pos[i] - scaleExp2
		} else {
			leafMin[i] = pos[i]
		}
	}

	// hit position in normalized space, clamped into the leaf to keep
	// follow-up rays from re-hitting the same face
	var hit types.Vec3
	for i := 0; i < 3; i++ {
		hit[i] = in.Pos[i]*octreeScale + 1 + t*d[i]
		hit[i] = clampf(hit[i], leafMin[i]+rayEpsilon, leafMin[i]+scaleExp2-rayEpsilon)
	}

	lx := (hit[0] - leafMin[0]) / scaleExp2
	ly := (hit[1] - leafMin[1]) / scaleExp2
	lz := (hit[2] - leafMin[2]) / scaleExp2
	uv := faceUV(face, lx, ly, lz)

	color := types.XYZW(0, 0, 0, 1)
	if rt.oracle != nil && int(value) < len(rt.materials) {
		mat := &rt.materials[value]
		if tex := faceTexture(mat, face); tex != NoTexture {
			color = rt.oracle.Sample(tex, uv[0], uv[1])
		}
	}

	if in.CastTranslucent && color[3] == 0 {
		*pendingActive = true
		*pendingValue = value
		*pendingExit = tcMax
		return Result{}, false
	}

	return Result{
		T:     t / octreeScale,
		Value: value,
		FaceID: face,
		Pos: types.XYZ(
			(hit[0]-1)/octreeScale,
			(hit[1]-1)/octreeScale,
			(hit[2]-1)/octreeScale,
		),
		UV:          uv,
		Color:       color,
		InsideVoxel: insideVoxel,
	}, true
}

func absf(v float32) float32 {
	return math.Float32frombits(math.Float32bits(v) &^ (1 << 31))
}

func copysignf(v, sign float32) float32 {
	return math.Float32frombits(math.Float32bits(v)&^(1<<31) | math.Float32bits(sign)&(1<<31))
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
