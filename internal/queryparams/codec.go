// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package queryparams implements the query-parameter codec and the
// TimeRange literal grammar shared by every component that issues or
// answers a recovery/history query (spec.md §4.2).
package queryparams

import (
	"fmt"
	"strconv"
	"strings"
)

// reserved key names (spec.md §4.2).
const (
	keyAnyKE = "_anyke"
	keyMax   = "_max"
	keyRange = "_range"
	keyTime  = "_time"
)

// SNRange is a `_range=<a..b>` inclusive sequence-number range; either
// endpoint may be absent for "open" (spec.md §4.2).
type SNRange struct {
	HasStart bool
	Start    uint32
	HasEnd   bool
	End      uint32
}

// Params is the decoded form of a query's parameters string.
type Params struct {
	AnyKE bool
	Max   uint32
	HasMax bool
	Range  *SNRange
	Time   *TimeRange
}

// Parse decodes a semicolon-separated `key[=value]` parameter string
// (spec.md §4.2, §8 property 7). It tolerates empty tokens, ignores unknown
// keys, and treats a missing/empty value as absent. parse("") yields the
// zero Params; parse(";") yields the zero Params (the lone empty token is
// dropped).
func Parse(s string) (Params, error) {
	var p Params
	if s == "" {
		return p, nil
	}

	for _, tok := range strings.Split(s, ";") {
		if tok == "" {
			continue
		}
		key, value, _ := strings.Cut(tok, "=")
		switch key {
		case keyAnyKE:
			p.AnyKE = true
		case keyMax:
			if value == "" {
				continue
			}
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return Params{}, fmt.Errorf("queryparams: parse %q: bad %s value: %w", s, keyMax, err)
			}
			p.Max = uint32(n)
			p.HasMax = true
		case keyRange:
			if value == "" {
				continue
			}
			rng, err := parseSNRange(value)
			if err != nil {
				return Params{}, fmt.Errorf("queryparams: parse %q: bad %s value: %w", s, keyRange, err)
			}
			p.Range = &rng
		case keyTime:
			if value == "" {
				continue
			}
			tr, err := ParseTimeRange(value)
			if err != nil {
				return Params{}, fmt.Errorf("queryparams: parse %q: bad %s value: %w", s, keyTime, err)
			}
			p.Time = &tr
		default:
			// unknown key: ignored per spec.md §4.2
		}
	}
	return p, nil
}

func parseSNRange(value string) (SNRange, error) {
	idx := strings.Index(value, "..")
	if idx < 0 {
		return SNRange{}, fmt.Errorf("missing '..' separator in %q", value)
	}
	startTok, endTok := value[:idx], value[idx+2:]

	var r SNRange
	if startTok != "" {
		n, err := strconv.ParseUint(startTok, 10, 32)
		if err != nil {
			return SNRange{}, fmt.Errorf("bad range start %q: %w", startTok, err)
		}
		r.HasStart, r.Start = true, uint32(n)
	}
	if endTok != "" {
		n, err := strconv.ParseUint(endTok, 10, 32)
		if err != nil {
			return SNRange{}, fmt.Errorf("bad range end %q: %w", endTok, err)
		}
		r.HasEnd, r.End = true, uint32(n)
	}
	return r, nil
}

// Encode writes p into buf and returns the number of bytes written.
// `_anyke` is written first when present, per the wire format in spec.md
// §6. It returns an error — leaving buf's contents undefined — rather than
// a partial write on overflow (spec.md §4.2).
func Encode(buf []byte, p Params) (int, error) {
	var b strings.Builder
	b.Grow(len(buf))

	first := true
	writeSep := func() {
		if !first {
			b.WriteByte(';')
		}
		first = false
	}

	if p.AnyKE {
		writeSep()
		b.WriteString(keyAnyKE)
	}
	if p.HasMax {
		writeSep()
		b.WriteString(keyMax)
		b.WriteByte('=')
		b.WriteString(strconv.FormatUint(uint64(p.Max), 10))
	}
	if p.Range != nil {
		writeSep()
		b.WriteString(keyRange)
		b.WriteByte('=')
		b.WriteString(formatSNRange(*p.Range))
	}
	if p.Time != nil {
		writeSep()
		b.WriteString(keyTime)
		b.WriteByte('=')
		b.WriteString(p.Time.Format())
	}

	out := b.String()
	if len(out) > len(buf) {
		return 0, fmt.Errorf("queryparams: encode: buffer too small (need %d, have %d)", len(out), len(buf))
	}
	copy(buf, out)
	return len(out), nil
}

func formatSNRange(r SNRange) string {
	var b strings.Builder
	if r.HasStart {
		b.WriteString(strconv.FormatUint(uint64(r.Start), 10))
	}
	b.WriteString("..")
	if r.HasEnd {
		b.WriteString(strconv.FormatUint(uint64(r.End), 10))
	}
	return b.String()
}
