package trace

import "github.com/tim-oster/voxel-go/types"

// Material describes the shading inputs of one voxel value. The layout is
// shared with the GPU; index 0 is reserved and never looked up.
type Material struct {
	SpecularPow      float32
	SpecularStrength float32

	TexTop    int32
	TexSide   int32
	TexBottom int32

	TexTopNormal    int32
	TexSideNormal   int32
	TexBottomNormal int32
}

// NoTexture marks an unset texture slot.
const NoTexture int32 = -1

// TextureOracle resolves texture samples for the raytracer. The texture
// atlas itself lives outside the core; the raytracer only needs texel
// colors, with alpha 0 marking translucent texels.
type TextureOracle interface {
	Sample(tex int32, u, v float32) types.Vec4
}

// Face identifiers. The index encodes axis*2 + sign: even faces point in
// the negative axis direction.
const (
	FaceNegX = 0
	FacePosX = 1
	FaceNegY = 2
	FacePosY = 3
	FaceNegZ = 4
	FacePosZ = 5
)

// FaceNormals holds the outward normal per face id.
var FaceNormals = [6]types.Vec3{
	{-1, 0, 0},
	{1, 0, 0},
	{0, -1, 0},
	{0, 1, 0},
	{0, 0, -1},
	{0, 0, 1},
}

// FaceTangents and FaceBitangents span each face's uv plane: the tangent
// follows u, the bitangent v. They must stay consistent with the uv mapping
// in faceUV.
var FaceTangents = [6]types.Vec3{
	{0, 0, -1},
	{0, 0, 1},
	{1, 0, 0},
	{1, 0, 0},
	{1, 0, 0},
	{-1, 0, 0},
}

var FaceBitangents = [6]types.Vec3{
	{0, 1, 0},
	{0, 1, 0},
	{0, 0, -1},
	{0, 0, 1},
	{0, 1, 0},
	{0, 1, 0},
}

// faceUV projects the hit point, given as fractions of the leaf cube along
// each axis, onto the face's uv space.
func faceUV(face int32, lx, ly, lz float32) types.Vec2 {
	switch face {
	case FaceNegX:
		return types.XY(1-lz, ly)
	case FacePosX:
		return types.XY(lz, ly)
	case FaceNegY:
		return types.XY(lx, 1-lz)
	case FacePosY:
		return types.XY(lx, lz)
	case FaceNegZ:
		return types.XY(lx, ly)
	default:
		return types.XY(1-lx, ly)
	}
}

// faceTexture selects the material texture for a face: +Y shows the top,
// -Y the bottom, everything else the side.
func faceTexture(mat *Material, face int32) int32 {
	switch face {
	case FacePosY:
		return mat.TexTop
	case FaceNegY:
		return mat.TexBottom
	default:
		return mat.TexSide
	}
}
