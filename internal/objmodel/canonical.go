// Package objmodel implements the content-addressed object model: canonical
// encoding, blake3-based ids, and the blob/recipe/manifest/snap record types
// (spec §3, §4.1).
package objmodel

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/inflatable-cookie/converge/internal/converrors"
	"lukechampine.com/blake3"
)

// ID is a 64-char lowercase hex BLAKE3 digest.
type ID string

// IDPattern is the regex every id path component is validated against (§6).
const IDPattern = `^[0-9a-f]{64}$`

// HashBytes returns the lowercase hex BLAKE3-256 digest of b.
func HashBytes(b []byte) ID {
	sum := blake3.Sum256(b)
	const hextable = "0123456789abcdef"
	out := make([]byte, 64)
	for i, v := range sum {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return ID(out)
}

// Canonicalize re-marshals arbitrary JSON bytes into canonical form: object
// keys sorted, no insignificant whitespace, arrays left in declared order.
// It fails with BadEncoding if the input does not round-trip through the
// canonical form (i.e. is not valid JSON, or contains values canonical JSON
// cannot represent losslessly).
func Canonicalize(raw []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, converrors.New(converrors.BadEncoding, "decode json: %v", err)
	}
	if dec.More() {
		return nil, converrors.New(converrors.BadEncoding, "trailing data after json value")
	}
	var buf bytes.Buffer
	if err := encodeCanonical(&buf, v); err != nil {
		return nil, converrors.New(converrors.BadEncoding, "canonicalize: %v", err)
	}
	out := buf.Bytes()
	// Round-trip check: re-decoding the canonical bytes must reproduce an
	// identical canonical encoding (catches e.g. NaN/Inf smuggled as strings
	// that would otherwise silently re-canonicalize differently).
	var v2 any
	dec2 := json.NewDecoder(bytes.NewReader(out))
	dec2.UseNumber()
	if err := dec2.Decode(&v2); err != nil {
		return nil, converrors.New(converrors.BadEncoding, "canonical round-trip decode: %v", err)
	}
	var buf2 bytes.Buffer
	if err := encodeCanonical(&buf2, v2); err != nil {
		return nil, converrors.New(converrors.BadEncoding, "canonical round-trip encode: %v", err)
	}
	if !bytes.Equal(out, buf2.Bytes()) {
		return nil, converrors.New(converrors.BadEncoding, "non-canonical input does not round-trip")
	}
	return out, nil
}

// CanonicalizeValue marshals a Go value straight to canonical JSON without
// an intermediate round-trip through a raw byte form.
func CanonicalizeValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, converrors.New(converrors.BadEncoding, "marshal: %v", err)
	}
	return Canonicalize(raw)
}

func encodeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(string(val))
	case string:
		b, err := json.Marshal(val)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encodeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return converrors.New(converrors.BadEncoding, "unsupported json value type %T", v)
	}
	return nil
}

// HashCanonicalJSON canonicalizes raw and returns its id plus the canonical
// bytes (the bytes that should be stored: hashing a pretty-printed copy
// would produce a different id).
func HashCanonicalJSON(raw []byte) (ID, []byte, error) {
	canon, err := Canonicalize(raw)
	if err != nil {
		return "", nil, err
	}
	return HashBytes(canon), canon, nil
}
