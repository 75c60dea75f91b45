/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ElementType identifies the scalar wire type of one dataset element.
// Values and natural sizes mirror IEC 61375-2-3 Table 3.
type ElementType uint8

// Element type codes.
const (
	TypeBool8     ElementType = 1
	TypeChar8     ElementType = 2
	TypeUtf16     ElementType = 3
	TypeInt8      ElementType = 4
	TypeInt16     ElementType = 5
	TypeInt32     ElementType = 6
	TypeInt64     ElementType = 7
	TypeUint8     ElementType = 8
	TypeUint16    ElementType = 9
	TypeUint32    ElementType = 10
	TypeUint64    ElementType = 11
	TypeReal32    ElementType = 12
	TypeReal64    ElementType = 13
	TypeTimedate32 ElementType = 14 // seconds since epoch
	TypeTimedate48 ElementType = 15 // TIMEDATE32 + uint16 ticks
	TypeTimedate64 ElementType = 16 // seconds + microseconds, both int32
	// TypeDataset marks an element whose Type is 0 and whose DatasetID
	// field names a nested Dataset descriptor instead of a scalar.
	TypeDataset ElementType = 0
)

// elementSize returns the natural (unaligned) size in bytes of one
// instance of t, or 0 for TypeDataset (whose size depends on its nested
// descriptor and is computed by the caller).
func elementSize(t ElementType) int {
	switch t {
	case TypeBool8, TypeChar8, TypeInt8, TypeUint8:
		return 1
	case TypeUtf16, TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeReal32, TypeTimedate32:
		return 4
	case TypeTimedate48:
		return 6
	case TypeInt64, TypeUint64, TypeReal64, TypeTimedate64:
		return 8
	default:
		return 0
	}
}

// Element is one field descriptor in a Dataset: either a scalar of Type,
// or (when Type == TypeDataset) a reference to a nested Dataset named by
// DatasetID.
//
// Count encodes the IEC 61375-2-3 array convention: 1 means a scalar,
// 0 means a dynamic array whose actual length is carried on the wire as
// a uint32 prefix, and any value >= 2 means a fixed-length array of
// exactly Count elements with no length prefix.
type Element struct {
	Name      string
	Type      ElementType
	DatasetID uint32
	Count     uint32
}

// Dataset is the full descriptor for one ComId's payload shape: an
// ordered list of elements, plus a cache of the size computed by the
// first successful Marshal call (spec.md 4.1: "the first pass on a
// dataset computes a cached serialised size; subsequent marshals of the
// same comId reuse it").
type Dataset struct {
	ID       uint32
	Elements []Element

	cachedSize int // 0 until the first successful Marshal
}

// Registry maps ComId to the Dataset carried by that telegram, and
// DatasetID to the Dataset definition (a ComId's dataset may itself
// reference other datasets by DatasetID for nested elements).
type Registry struct {
	byComID     map[uint32]uint32
	byDatasetID map[uint32]*Dataset
}

// NewRegistry returns an empty dataset registry.
func NewRegistry() *Registry {
	return &Registry{
		byComID:     make(map[uint32]uint32),
		byDatasetID: make(map[uint32]*Dataset),
	}
}

// AddDataset registers a dataset definition, indexed by its DatasetID.
func (r *Registry) AddDataset(ds *Dataset) {
	r.byDatasetID[ds.ID] = ds
}

// BindComID associates a ComId with the dataset it carries.
func (r *Registry) BindComID(comID, datasetID uint32) {
	r.byComID[comID] = datasetID
}

// Lookup returns the Dataset bound to comID.
func (r *Registry) Lookup(comID uint32) (*Dataset, error) {
	dsID, ok := r.byComID[comID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownComId, comID)
	}
	ds, ok := r.byDatasetID[dsID]
	if !ok {
		return nil, fmt.Errorf("%w: comId %d -> datasetId %d", ErrUnknownComId, comID, dsID)
	}
	return ds, nil
}

// Validate walks the dataset reference graph from every registered
// dataset via depth-first search and rejects any cycle with
// ErrMarshallingMismatch, as spec.md 4.8 requires at init time rather
// than discovering it lazily mid-marshal.
func (r *Registry) Validate() error {
	visited := make(map[uint32]int) // 0=unvisited, 1=on stack, 2=done
	for id := range r.byDatasetID {
		if err := r.dfsCheck(id, visited); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) dfsCheck(id uint32, visited map[uint32]int) error {
	switch visited[id] {
	case 2:
		return nil
	case 1:
		return fmt.Errorf("%w: cyclic reference to dataset %d", ErrMarshallingMismatch, id)
	}
	visited[id] = 1
	ds, ok := r.byDatasetID[id]
	if !ok {
		return fmt.Errorf("%w: dataset %d references unknown dataset", ErrMarshallingMismatch, id)
	}
	for _, el := range ds.Elements {
		if el.Type != TypeDataset {
			continue
		}
		if err := r.dfsCheck(el.DatasetID, visited); err != nil {
			return err
		}
	}
	visited[id] = 2
	return nil
}

// align returns the next offset >= pos that honours the natural alignment
// of size (spec.md 4.1: "honour natural alignment of element type").
// Nested datasets always align to 4 bytes regardless of their content.
func align(pos, size int) int {
	if size <= 1 {
		return pos
	}
	rem := pos % size
	if rem == 0 {
		return pos
	}
	return pos + (size - rem)
}

// Marshal serialises values (one entry per element in ds.Elements, in
// order; a TypeDataset element's value must itself be []any matching its
// nested dataset) into out, starting at offset 0, honouring alignment,
// byte-swapping to big-endian, and emitting a uint32 length prefix before
// any Count==0 dynamic array. It returns the number of bytes written.
//
// Cycles in the dataset reference graph (a nested dataset that,
// transitively, references itself) are rejected with
// ErrMarshallingMismatch rather than recursing forever.
func (r *Registry) Marshal(ds *Dataset, values []any, out []byte) (int, error) {
	n, err := r.marshalInto(ds, values, out, make(map[uint32]bool))
	if err != nil {
		return 0, err
	}
	if ds.cachedSize == 0 {
		ds.cachedSize = n
	}
	return n, nil
}

func (r *Registry) marshalInto(ds *Dataset, values []any, out []byte, visiting map[uint32]bool) (int, error) {
	if visiting[ds.ID] {
		return 0, fmt.Errorf("%w: cyclic reference to dataset %d", ErrMarshallingMismatch, ds.ID)
	}
	visiting[ds.ID] = true
	defer delete(visiting, ds.ID)

	if len(values) != len(ds.Elements) {
		return 0, fmt.Errorf("%w: dataset %d wants %d elements, got %d", ErrMarshallingMismatch, ds.ID, len(ds.Elements), len(values))
	}

	pos := 0
	for i, el := range ds.Elements {
		nested, err := r.resolveNested(el)
		if err != nil {
			return 0, err
		}
		var err2 error
		if nested != nil {
			_, err2 = r.marshalElement(nested, el, values[i], out, &pos, visiting)
		} else {
			_, err2 = r.marshalScalarElement(el, values[i], out, &pos)
		}
		if err2 != nil {
			return 0, err2
		}
	}
	return pos, nil
}

func (r *Registry) resolveNested(el Element) (*Dataset, error) {
	if el.Type != TypeDataset {
		return nil, nil
	}
	nested, ok := r.byDatasetID[el.DatasetID]
	if !ok {
		return nil, fmt.Errorf("%w: element %q references unknown dataset %d", ErrMarshallingMismatch, el.Name, el.DatasetID)
	}
	return nested, nil
}

// marshalElement handles one Element whose Type is TypeDataset: it
// expands the nested dataset either once (Count==1), as a fixed array
// (Count>=2) or as a dynamic length-prefixed array (Count==0).
func (r *Registry) marshalElement(nested *Dataset, el Element, value any, out []byte, pos *int, visiting map[uint32]bool) (int, error) {
	*pos = align(*pos, 4)
	start := *pos

	items, err := asItemSlice(el, value)
	if err != nil {
		return 0, err
	}
	if el.Count == 0 {
		if len(out) < *pos+4 {
			return 0, fmt.Errorf("%w: dataset length prefix", ErrSizeOverflow)
		}
		binary.BigEndian.PutUint32(out[*pos:], uint32(len(items)))
		*pos += 4
	}
	for _, item := range items {
		sub, ok := item.([]any)
		if !ok {
			return 0, fmt.Errorf("%w: nested dataset element %q wants []any per instance", ErrMarshallingMismatch, el.Name)
		}
		n, err := r.marshalInto(nested, sub, out[*pos:], visiting)
		if err != nil {
			return 0, err
		}
		*pos += n
	}
	return *pos - start, nil
}

// marshalScalarElement handles one Element whose Type is a scalar type.
func (r *Registry) marshalScalarElement(el Element, value any, out []byte, pos *int) (int, error) {
	size := elementSize(el.Type)
	items, err := asItemSlice(el, value)
	if err != nil {
		return 0, err
	}

	*pos = align(*pos, size)
	start := *pos

	if el.Count == 0 {
		if len(out) < *pos+4 {
			return 0, fmt.Errorf("%w: array length prefix", ErrSizeOverflow)
		}
		binary.BigEndian.PutUint32(out[*pos:], uint32(len(items)))
		*pos += 4
		*pos = align(*pos, size)
	}

	for _, item := range items {
		if len(out) < *pos+size {
			return 0, fmt.Errorf("%w: element %q", ErrSizeOverflow, el.Name)
		}
		if err := putScalar(el.Type, item, out[*pos:*pos+size]); err != nil {
			return 0, err
		}
		*pos += size
	}
	return *pos - start, nil
}

// asItemSlice normalises a marshal value for el into a slice of per-
// instance values: a scalar (Count==1) becomes a one-element slice, an
// array becomes the slice itself, checked against el.Count when fixed.
func asItemSlice(el Element, value any) ([]any, error) {
	if el.Count == 1 {
		return []any{value}, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: element %q wants an array value", ErrMarshallingMismatch, el.Name)
	}
	if el.Count >= 2 && uint32(len(items)) != el.Count {
		return nil, fmt.Errorf("%w: element %q wants exactly %d items, got %d", ErrMarshallingMismatch, el.Name, el.Count, len(items))
	}
	return items, nil
}

// putScalar writes one scalar value of type t into b (exactly
// elementSize(t) bytes), big-endian.
func putScalar(t ElementType, value any, b []byte) error {
	switch t {
	case TypeBool8, TypeChar8, TypeInt8, TypeUint8:
		v, err := toUint64(value)
		if err != nil {
			return err
		}
		b[0] = byte(v)
	case TypeUtf16, TypeInt16, TypeUint16:
		v, err := toUint64(value)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint16(b, uint16(v))
	case TypeInt32, TypeUint32, TypeTimedate32:
		v, err := toUint64(value)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint32(b, uint32(v))
	case TypeReal32:
		v, ok := value.(float32)
		if !ok {
			return fmt.Errorf("%w: expected float32", ErrMarshallingMismatch)
		}
		binary.BigEndian.PutUint32(b, math.Float32bits(v))
	case TypeTimedate48:
		v, ok := value.([2]uint32)
		if !ok {
			return fmt.Errorf("%w: TIMEDATE48 wants [2]uint32{seconds, ticks}", ErrMarshallingMismatch)
		}
		binary.BigEndian.PutUint32(b, v[0])
		binary.BigEndian.PutUint16(b[4:], uint16(v[1]))
	case TypeInt64, TypeUint64:
		v, err := toUint64(value)
		if err != nil {
			return err
		}
		binary.BigEndian.PutUint64(b, v)
	case TypeReal64:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("%w: expected float64", ErrMarshallingMismatch)
		}
		binary.BigEndian.PutUint64(b, math.Float64bits(v))
	case TypeTimedate64:
		v, ok := value.([2]int32)
		if !ok {
			return fmt.Errorf("%w: TIMEDATE64 wants [2]int32{seconds, micros}", ErrMarshallingMismatch)
		}
		binary.BigEndian.PutUint32(b, uint32(v[0]))
		binary.BigEndian.PutUint32(b[4:], uint32(v[1]))
	default:
		return fmt.Errorf("%w: unknown element type %d", ErrMarshallingMismatch, t)
	}
	return nil
}

// toUint64 widens common Go integer kinds into a uint64 for scalar
// encoding, so callers can pass an int, uint32, byte etc. without
// matching the element's exact width.
func toUint64(value any) (uint64, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int:
		return uint64(v), nil
	case int8:
		return uint64(uint8(v)), nil
	case int16:
		return uint64(uint16(v)), nil
	case int32:
		return uint64(uint32(v)), nil
	case int64:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case uint16:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint64:
		return v, nil
	default:
		return 0, fmt.Errorf("%w: unsupported scalar value type %T", ErrMarshallingMismatch, value)
	}
}
