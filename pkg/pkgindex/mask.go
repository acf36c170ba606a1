// SPDX-License-Identifier: MPL-2.0

package pkgindex

// IDMask keeps the low 60 bits of an identifier.
const IDMask uint64 = 0x0FFFFFFFFFFFFFFF

// Mask clears the top 4 bits of id. Identifiers that differ only in those
// bits map to the same entry.
func Mask(id uint64) uint64 {
	return id & IDMask
}
