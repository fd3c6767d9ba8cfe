package gpu

import (
	"unsafe"

	"github.com/go-gl/gl/v4.5-core/gl"
)

// MappedBuffer wraps a persistently mapped OpenGL buffer. The mapping is
// coherent: client writes become visible to the GPU without explicit
// flushes, in the order they were performed.
//
// Writer contract for SVO uploads: block data must be written before the
// single aligned 32-bit root pointer update. A shader reading concurrently
// then observes either the old or the new world, never a torn pointer.
type MappedBuffer struct {
	handle    uint32
	sizeWords int
	ptr       unsafe.Pointer
}

// NewMappedBuffer allocates an immutable buffer of sizeWords 32-bit words
// and maps it persistently for reads and writes.
func NewMappedBuffer(sizeWords int) *MappedBuffer {
	const flags = gl.MAP_READ_BIT | gl.MAP_WRITE_BIT | gl.MAP_PERSISTENT_BIT | gl.MAP_COHERENT_BIT

	var handle uint32
	gl.CreateBuffers(1, &handle)

	sizeBytes := sizeWords * 4
	gl.NamedBufferStorage(handle, sizeBytes, nil, flags)
	ptr := gl.MapNamedBufferRange(handle, 0, sizeBytes, flags)

	return &MappedBuffer{handle: handle, sizeWords: sizeWords, ptr: ptr}
}

// Words exposes the mapping as a word slice. The slice stays valid until
// Release is called.
func (b *MappedBuffer) Words() []uint32 {
	return unsafe.Slice((*uint32)(b.ptr), b.sizeWords)
}

// Bytes exposes the mapping byte-addressed, for the CSVO format.
func (b *MappedBuffer) Bytes() []byte {
	return unsafe.Slice((*byte)(b.ptr), b.sizeWords*4)
}

// SizeWords returns the buffer capacity in 32-bit words.
func (b *MappedBuffer) SizeWords() int {
	return b.sizeWords
}

// BindAsStorageBuffer binds the buffer to the given SSBO binding point.
func (b *MappedBuffer) BindAsStorageBuffer(index uint32) {
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, index, b.handle)
}

// Release unmaps and deletes the buffer. It is safe to call more than
// once; callers must ensure it runs on every exit path of the render
// thread, typically via defer right after creation.
func (b *MappedBuffer) Release() {
	if b.handle == 0 {
		return
	}
	gl.UnmapNamedBuffer(b.handle)
	gl.DeleteBuffers(1, &b.handle)
	b.handle = 0
	b.ptr = nil
}

// Buffer wraps a plain device buffer for static data such as the material
// table.
type Buffer struct {
	handle uint32
	size   int
}

// NewBufferWithData allocates a buffer and uploads the given bytes.
func NewBufferWithData(data []byte, usage uint32) *Buffer {
	var handle uint32
	gl.CreateBuffers(1, &handle)
	gl.NamedBufferData(handle, len(data), unsafe.Pointer(&data[0]), usage)
	return &Buffer{handle: handle, size: len(data)}
}

// Size returns the allocated size in bytes.
func (b *Buffer) Size() int {
	return b.size
}

// BindAsStorageBuffer binds the buffer to the given SSBO binding point.
func (b *Buffer) BindAsStorageBuffer(index uint32) {
	gl.BindBufferBase(gl.SHADER_STORAGE_BUFFER, index, b.handle)
}

// Release deletes the buffer. Safe to call more than once.
func (b *Buffer) Release() {
	if b.handle == 0 {
		return
	}
	gl.DeleteBuffers(1, &b.handle)
	b.handle = 0
}
