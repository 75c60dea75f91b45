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

// Unmarshal decodes in against ds into a slice of host values mirroring
// the shape Marshal expects: one entry per ds.Elements, scalars as their
// natural Go type, arrays as []any, nested datasets as []any of []any.
//
// Before dereferencing any element it checks that the declared count
// times the element size does not exceed the remaining payload (spec.md
// 4.1 invariant), returning ErrLengthMismatch rather than panicking on a
// truncated or hostile frame.
func (r *Registry) Unmarshal(ds *Dataset, in []byte) ([]any, error) {
	values, _, err := r.unmarshalFrom(ds, in, make(map[uint32]bool))
	return values, err
}

func (r *Registry) unmarshalFrom(ds *Dataset, in []byte, visiting map[uint32]bool) ([]any, int, error) {
	if visiting[ds.ID] {
		return nil, 0, fmt.Errorf("%w: cyclic reference to dataset %d", ErrMarshallingMismatch, ds.ID)
	}
	visiting[ds.ID] = true
	defer delete(visiting, ds.ID)

	values := make([]any, len(ds.Elements))
	pos := 0
	for i, el := range ds.Elements {
		nested, err := r.resolveNested(el)
		if err != nil {
			return nil, 0, err
		}
		var v any
		var n int
		if nested != nil {
			v, n, err = r.unmarshalDatasetElement(nested, el, in, pos, visiting)
		} else {
			v, n, err = unmarshalScalarElement(el, in, pos)
		}
		if err != nil {
			return nil, 0, err
		}
		values[i] = v
		pos = n
	}
	return values, pos, nil
}

func (r *Registry) unmarshalDatasetElement(nested *Dataset, el Element, in []byte, pos int, visiting map[uint32]bool) (any, int, error) {
	pos = align(pos, 4)
	if pos > len(in) {
		return nil, 0, fmt.Errorf("%w: nested dataset element %q past end of buffer", ErrLengthMismatch, el.Name)
	}
	count := int(el.Count)
	if el.Count == 0 {
		if err := checkLen(in[pos:], 4, "nested dataset length prefix"); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrLengthMismatch, err)
		}
		count = int(binary.BigEndian.Uint32(in[pos:]))
		pos += 4
		if count > len(in)-pos {
			return nil, 0, fmt.Errorf("%w: nested dataset element %q declares %d items beyond remaining %d bytes",
				ErrLengthMismatch, el.Name, count, len(in)-pos)
		}
	} else if el.Count == 1 {
		count = 1
	}

	items := make([]any, count)
	for i := 0; i < count; i++ {
		sub, n, err := r.unmarshalFrom(nested, in[pos:], visiting)
		if err != nil {
			return nil, 0, err
		}
		items[i] = sub
		pos += n
	}
	if el.Count == 1 {
		return items[0], pos, nil
	}
	return items, pos, nil
}

func unmarshalScalarElement(el Element, in []byte, pos int) (any, int, error) {
	size := elementSize(el.Type)
	pos = align(pos, size)
	if pos > len(in) {
		return nil, 0, fmt.Errorf("%w: element %q past end of buffer", ErrLengthMismatch, el.Name)
	}
	count := int(el.Count)
	if el.Count == 0 {
		if err := checkLen(in[pos:], 4, "array length prefix"); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrLengthMismatch, err)
		}
		count = int(binary.BigEndian.Uint32(in[pos:]))
		pos += 4
		pos = align(pos, size)
	}

	if count < 0 || int64(count)*int64(size) > int64(len(in)-pos) {
		return nil, 0, fmt.Errorf("%w: element %q declares %d items of size %d beyond remaining %d bytes",
			ErrLengthMismatch, el.Name, count, size, len(in)-pos)
	}

	items := make([]any, count)
	for i := 0; i < count; i++ {
		v, err := getScalar(el.Type, in[pos:pos+size])
		if err != nil {
			return nil, 0, err
		}
		items[i] = v
		pos += size
	}
	if el.Count == 1 {
		if count != 1 {
			return nil, 0, fmt.Errorf("%w: scalar element %q", ErrLengthMismatch, el.Name)
		}
		return items[0], pos, nil
	}
	return items, pos, nil
}

// getScalar reads one scalar value of type t from b (exactly
// elementSize(t) bytes), big-endian, returning it as its natural Go type.
func getScalar(t ElementType, b []byte) (any, error) {
	switch t {
	case TypeBool8:
		return b[0] != 0, nil
	case TypeChar8, TypeUint8:
		return b[0], nil
	case TypeInt8:
		return int8(b[0]), nil
	case TypeUtf16, TypeUint16:
		return binary.BigEndian.Uint16(b), nil
	case TypeInt16:
		return int16(binary.BigEndian.Uint16(b)), nil
	case TypeUint32:
		return binary.BigEndian.Uint32(b), nil
	case TypeInt32:
		return int32(binary.BigEndian.Uint32(b)), nil
	case TypeTimedate32:
		return binary.BigEndian.Uint32(b), nil
	case TypeReal32:
		return math.Float32frombits(binary.BigEndian.Uint32(b)), nil
	case TypeTimedate48:
		return [2]uint32{binary.BigEndian.Uint32(b), uint32(binary.BigEndian.Uint16(b[4:]))}, nil
	case TypeUint64:
		return binary.BigEndian.Uint64(b), nil
	case TypeInt64:
		return int64(binary.BigEndian.Uint64(b)), nil
	case TypeReal64:
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case TypeTimedate64:
		return [2]int32{int32(binary.BigEndian.Uint32(b)), int32(binary.BigEndian.Uint32(b[4:]))}, nil
	default:
		return nil, fmt.Errorf("%w: unknown element type %d", ErrMarshallingMismatch, t)
	}
}
