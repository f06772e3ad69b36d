// Package auxiliary implements the Auxiliary Data Manager (C4): the current
// value of every auxiliary data stream, and the per-animation ordered list
// of auxiliary sources that feeds the GPU Pipeline's auxiliary bind group.
package auxiliary

import (
	"encoding/binary"
	"math"

	"github.com/Carmen-Shannon/blinkenctl/common"
)

// Kind tags the shape of an AuxiliaryDataType / AuxiliaryDataTypeConsumer.
// Compatibility between a declared consumer and a live value is Kind
// equality — nothing more.
type Kind int

const (
	KindEmpty Kind = iota
	KindF32
	KindF32Vec
	KindF32Vec2
	KindF32Vec3
	KindF32Vec4
)

// numDims returns how many dimension-size words this kind's wire encoding
// prefixes the payload with. Scalars (F32) and Empty emit no dims prefix.
func (k Kind) numDims() int {
	switch k {
	case KindF32Vec:
		return 1
	case KindF32Vec2:
		return 2
	case KindF32Vec3:
		return 3
	case KindF32Vec4:
		return 4
	default:
		return 0
	}
}

// AuxiliaryDataTypeConsumer is the declared shape an animation expects for
// one of its auxiliary slots.
type AuxiliaryDataTypeConsumer = Kind

// AuxiliaryDataType is a tagged variant holding the current value of one
// auxiliary stream.
type AuxiliaryDataType struct {
	kind   Kind
	scalar float32
	values []float32
	dims   [4]int
}

// NewEmptyAuxiliaryDataType returns the Empty variant.
func NewEmptyAuxiliaryDataType() AuxiliaryDataType {
	return AuxiliaryDataType{kind: KindEmpty}
}

// NewF32 returns the scalar F32 variant.
func NewF32(value float32) AuxiliaryDataType {
	return AuxiliaryDataType{kind: KindF32, scalar: value}
}

// NewF32Vec returns the 1-dimensional F32Vec variant. Fails with
// IncorrectDimensionsError if len(values) != dim1.
func NewF32Vec(values []float32, dim1 int) (AuxiliaryDataType, error) {
	if len(values) != dim1 {
		return AuxiliaryDataType{}, common.NewIncorrectDimensionsError(dim1, len(values))
	}
	return AuxiliaryDataType{kind: KindF32Vec, values: values, dims: [4]int{dim1}}, nil
}

// NewF32Vec2 returns the 2-dimensional F32Vec2 variant. Fails with
// IncorrectDimensionsError if len(values) != dim1*dim2.
func NewF32Vec2(values []float32, dim1, dim2 int) (AuxiliaryDataType, error) {
	want := dim1 * dim2
	if len(values) != want {
		return AuxiliaryDataType{}, common.NewIncorrectDimensionsError(want, len(values))
	}
	return AuxiliaryDataType{kind: KindF32Vec2, values: values, dims: [4]int{dim1, dim2}}, nil
}

// NewF32Vec3 returns the 3-dimensional F32Vec3 variant. Fails with
// IncorrectDimensionsError if len(values) != dim1*dim2*dim3.
func NewF32Vec3(values []float32, dim1, dim2, dim3 int) (AuxiliaryDataType, error) {
	want := dim1 * dim2 * dim3
	if len(values) != want {
		return AuxiliaryDataType{}, common.NewIncorrectDimensionsError(want, len(values))
	}
	return AuxiliaryDataType{kind: KindF32Vec3, values: values, dims: [4]int{dim1, dim2, dim3}}, nil
}

// NewF32Vec4 returns the 4-dimensional F32Vec4 variant. Fails with
// IncorrectDimensionsError if len(values) != dim1*dim2*dim3*dim4.
func NewF32Vec4(values []float32, dim1, dim2, dim3, dim4 int) (AuxiliaryDataType, error) {
	want := dim1 * dim2 * dim3 * dim4
	if len(values) != want {
		return AuxiliaryDataType{}, common.NewIncorrectDimensionsError(want, len(values))
	}
	return AuxiliaryDataType{kind: KindF32Vec4, values: values, dims: [4]int{dim1, dim2, dim3, dim4}}, nil
}

// Kind returns the tag of this value.
func (d AuxiliaryDataType) Kind() Kind { return d.kind }

// Consumer returns the AuxiliaryDataTypeConsumer with the same tag as this
// value — the shape a shader declaring this as its expected type would ask
// for.
func (d AuxiliaryDataType) Consumer() AuxiliaryDataTypeConsumer { return d.kind }

// Scalar returns the F32 payload. Only meaningful when Kind() == KindF32.
func (d AuxiliaryDataType) Scalar() float32 { return d.scalar }

// Values returns the flat, row-major payload for vector kinds. Nil for
// Empty and F32.
func (d AuxiliaryDataType) Values() []float32 { return d.values }

// Dims returns the active dimension sizes for this kind, in order. Empty
// slice for Empty and F32.
func (d AuxiliaryDataType) Dims() []int {
	n := d.kind.numDims()
	return d.dims[:n]
}

// Size returns the number of scalar values this type carries: the product
// of its dims, 1 for a scalar, 0 for Empty.
func (d AuxiliaryDataType) Size() int {
	switch d.kind {
	case KindEmpty:
		return 0
	case KindF32:
		return 1
	default:
		n := 1
		for _, dim := range d.Dims() {
			n *= dim
		}
		return n
	}
}

// EmptySubstituteBuffer builds the wire encoding of the zero-filled
// substitute buffer the GPU Pipeline binds for kind when an animation's
// auxiliary slot is unmapped, unknown, or mistyped: the kind's dims prefix
// filled with zeros, followed by a single zero f32 payload word — even for
// kinds whose "real" size would be zero (Empty), since a GPU buffer binding
// cannot be zero-length.
func EmptySubstituteBuffer(kind Kind) []byte {
	n := kind.numDims()
	buf := make([]byte, 4*n+4)
	// All bytes are already zero; binary.BigEndian.PutUint32(..., 0) is a
	// no-op, and the trailing f32 zero word encodes to zero bytes too.
	return buf
}

// Compatible reports whether a live value's tag matches a declared consumer
// shape. Tag-equality only — no coercion between kinds.
func Compatible(data AuxiliaryDataType, consumer AuxiliaryDataTypeConsumer) bool {
	return data.kind == consumer
}

// ZeroValueFor builds the default value for a freshly-added auxiliary of
// the given declared consumer shape: all-zero payload of the right size.
func ZeroValueFor(consumer AuxiliaryDataTypeConsumer, dims ...int) AuxiliaryDataType {
	switch consumer {
	case KindEmpty:
		return NewEmptyAuxiliaryDataType()
	case KindF32:
		return NewF32(0)
	case KindF32Vec:
		d1 := dimOrOne(dims, 0)
		v, _ := NewF32Vec(make([]float32, d1), d1)
		return v
	case KindF32Vec2:
		d1, d2 := dimOrOne(dims, 0), dimOrOne(dims, 1)
		v, _ := NewF32Vec2(make([]float32, d1*d2), d1, d2)
		return v
	case KindF32Vec3:
		d1, d2, d3 := dimOrOne(dims, 0), dimOrOne(dims, 1), dimOrOne(dims, 2)
		v, _ := NewF32Vec3(make([]float32, d1*d2*d3), d1, d2, d3)
		return v
	case KindF32Vec4:
		d1, d2, d3, d4 := dimOrOne(dims, 0), dimOrOne(dims, 1), dimOrOne(dims, 2), dimOrOne(dims, 3)
		v, _ := NewF32Vec4(make([]float32, d1*d2*d3*d4), d1, d2, d3, d4)
		return v
	default:
		return NewEmptyAuxiliaryDataType()
	}
}

func dimOrOne(dims []int, i int) int {
	if i < len(dims) && dims[i] > 0 {
		return dims[i]
	}
	return 1
}

// ToDataBuffer serializes the value per the GPU wire format: a big-endian
// u32 size for each active dimension in order (scalars and Empty emit no
// dims prefix), followed by the raw f32 payload in row-major order.
func (d AuxiliaryDataType) ToDataBuffer() []byte {
	dims := d.Dims()
	values := d.values
	if d.kind == KindF32 {
		values = []float32{d.scalar}
	}

	buf := make([]byte, 4*len(dims)+4*len(values))
	offset := 0
	for _, dim := range dims {
		binary.BigEndian.PutUint32(buf[offset:offset+4], uint32(dim))
		offset += 4
	}
	for _, v := range values {
		binary.LittleEndian.PutUint32(buf[offset:offset+4], math.Float32bits(v))
		offset += 4
	}
	return buf
}
