// Change-detection hashing for SCD merges.
//
// The hash is computed over the VALUE-role columns only, in mapping order,
// each value reduced to a canonical string form first, so that the same
// logical row always hashes identically regardless of which driver produced
// the values (pgx returns int64 where go-mssqldb may return int32, and so
// on). Strings are NFC-normalized so that visually identical text with a
// different code-point sequence does not fake a change.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/text/unicode/norm"
)

// fieldSep separates canonical fields inside the hash input. A control
// character keeps "ab","c" and "a","bc" from colliding.
const fieldSep = "\x1f"

// nullMarker stands in for NULL; distinct from the empty string.
const nullMarker = "\x00"

// hashValues computes the hex-encoded xxh3 hash over the VALUE columns of a
// positional row.
func (t *Transformer) hashValues(values []any) string {
	var b strings.Builder
	for i, idx := range t.valueIdx {
		if i > 0 {
			b.WriteString(fieldSep)
		}
		b.WriteString(canonical(values[idx]))
	}
	return fmt.Sprintf("%016x", xxh3.HashString(b.String()))
}

// HashNamed computes the same hash from a column-name-keyed row, e.g. when
// re-hashing an existing target row fetched during a merge lookup.
func (t *Transformer) HashNamed(row map[string]any) string {
	var b strings.Builder
	for i, idx := range t.valueIdx {
		if i > 0 {
			b.WriteString(fieldSep)
		}
		b.WriteString(canonical(row[t.columns[idx]]))
	}
	return fmt.Sprintf("%016x", xxh3.HashString(b.String()))
}

// canonical reduces a value to its stable string form.
func canonical(v any) string {
	switch t := v.(type) {
	case nil:
		return nullMarker
	case string:
		return norm.NFC.String(t)
	case []byte:
		return norm.NFC.String(string(t))
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(t)
	}
}
