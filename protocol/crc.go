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

import "hash/crc32"

// initFCS is the seed used for both CRC variants, matching the original
// stack's vos_crc32/vos_sc32 (INITFCS = 0xFFFFFFFF).
const initFCS uint32 = 0xFFFFFFFF

// ieeeTable is the standard CRC-32/IEEE 802.3 polynomial table, used for
// both the header and payload checksums of a regular PD/MD frame.
var ieeeTable = crc32.IEEETable

// sc32Table is the CRC-32C (Castagnoli) polynomial table, used for the
// Annex B.7 "safety code" variant carried by safety-relevant datasets.
// Using a distinct polynomial from the frame FCS means a bit error that
// happens to preserve one checksum is vanishingly unlikely to also
// preserve the other.
var sc32Table = crc32.MakeTable(crc32.Castagnoli)

// CRC32 computes the IEC 61375-2-3 frame check sequence (CRC-32/IEEE
// 802.3) over data, seeded with initFCS and inverted on output, matching
// vos_crc32(). Used for both the header FCS (bytes 0..35) and the payload
// FCS appended after the dataset.
func CRC32(data []byte) uint32 {
	return ^crc32.Update(initFCS, ieeeTable, data)
}

// UpdateCRC32 folds more data into a running CRC-32/IEEE value without
// inverting it, for callers that checksum a frame in more than one slice
// (header then payload) before taking the final FCS. Pass initFCS as crc
// for the first call.
func UpdateCRC32(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, ieeeTable, data)
}

// VerifyCRC32 reports whether fcs is the correct CRC-32/IEEE checksum of data.
func VerifyCRC32(data []byte, fcs uint32) bool {
	return CRC32(data) == fcs
}

// SC32 computes the Annex B.7 safety code (CRC-32C) over data, seeded and
// inverted the same way as CRC32, matching vos_sc32()'s call signature.
func SC32(data []byte) uint32 {
	return ^crc32.Update(initFCS, sc32Table, data)
}

// VerifySC32 reports whether sc is the correct safety code of data.
func VerifySC32(data []byte, sc uint32) bool {
	return SC32(data) == sc
}
