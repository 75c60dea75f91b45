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

import "errors"

// Sentinel errors matching the abstract error taxonomy of spec.md §7.
// Package-level callers use errors.Is against these rather than matching
// on string content.
var (
	// ErrParam is a caller-supplied argument out of range or missing.
	ErrParam = errors.New("trdp: invalid parameter")
	// ErrBufferTooSmall means the destination buffer could not hold the
	// encoded frame.
	ErrBufferTooSmall = errors.New("trdp: buffer too small")
	// ErrCrcHeader means the header CRC-32 did not verify.
	ErrCrcHeader = errors.New("trdp: header CRC mismatch")
	// ErrCrcPayload means the payload CRC-32 did not verify.
	ErrCrcPayload = errors.New("trdp: payload CRC mismatch")
	// ErrVersion means the packet declares an unsupported protocol version.
	ErrVersion = errors.New("trdp: unsupported protocol version")
	// ErrLengthMismatch means the declared dataset/payload length disagrees
	// with the bytes actually available.
	ErrLengthMismatch = errors.New("trdp: length mismatch")
	// ErrWire is a generic framing/decoding failure below the CRC layer.
	ErrWire = errors.New("trdp: malformed wire frame")
	// ErrUnknownComId means no dataset is registered for a ComId.
	ErrUnknownComId = errors.New("trdp: unknown comId")
	// ErrSizeOverflow means a marshalled dataset would overflow its buffer.
	ErrSizeOverflow = errors.New("trdp: dataset size overflow")
	// ErrMarshallingMismatch means the dataset descriptor and the host
	// value being marshalled disagree in shape (e.g. wrong element count,
	// or a cyclic dataset reference).
	ErrMarshallingMismatch = errors.New("trdp: marshalling mismatch")
	// ErrTopo means topo counts differ between peers (wrong epoch).
	ErrTopo = errors.New("trdp: topo count mismatch")
	// ErrState means an MD operation was invoked in an incompatible state.
	ErrState = errors.New("trdp: invalid session state")
)
