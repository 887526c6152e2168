// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package seqnum implements 32-bit wraparound sequence number arithmetic
// (spec.md §3, §9 "Sequence arithmetic"). Every comparison between two
// sequence numbers must go through Follows/Diff — never a naive `<`, which
// breaks the instant a counter wraps past 2^32-1.
package seqnum

// Next returns sn+1 modulo 2^32. Go's uint32 addition already wraps, so this
// is just documentation of intent at call sites.
func Next(sn uint32) uint32 {
	return sn + 1
}

// Diff returns the signed 32-bit difference (b - a), used to decide
// ordering under wraparound: a positive diff means b follows a.
func Diff(a, b uint32) int32 {
	return int32(b - a)
}

// Follows reports whether b comes strictly after a in wraparound order.
func Follows(a, b uint32) bool {
	return Diff(a, b) > 0
}

// FollowsOrEqual reports whether b == a or b follows a.
func FollowsOrEqual(a, b uint32) bool {
	return Diff(a, b) >= 0
}

// Precedes reports whether b comes strictly before a.
func Precedes(a, b uint32) bool {
	return Diff(a, b) < 0
}
