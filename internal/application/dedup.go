package application

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/davarch/regsync/internal/domain"
)

// Canonical rewrites a JSON document into the form used for payload
// identity: object keys sorted, strings NFC normalized, numbers kept as
// written, no HTML escaping and no trailing newline.
func Canonical(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonical: decode: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(v)); err != nil {
		return nil, fmt.Errorf("canonical: encode: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// normalize applies NFC to every string; encoding/json sorts map keys.
func normalize(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[norm.NFC.String(k)] = normalize(elem)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = normalize(elem)
		}
		return out
	default:
		return v
	}
}

// Dedup keeps the first payload of every group with an identical canonical
// form and returns the survivors in input order with the number dropped.
func Dedup(payloads []domain.ChangePayload) ([]domain.ChangePayload, int) {
	seen := make(map[uint64][][]byte, len(payloads))
	kept := make([]domain.ChangePayload, 0, len(payloads))
	dropped := 0

	for _, p := range payloads {
		raw := p.Raw
		if len(raw) == 0 {
			b, err := json.Marshal(p)
			if err != nil {
				kept = append(kept, p)
				continue
			}
			raw = b
		}

		canon, err := Canonical(raw)
		if err != nil {
			kept = append(kept, p)
			continue
		}

		sum := xxhash.Sum64(canon)
		if isSeen(seen[sum], canon) {
			dropped++
			continue
		}
		seen[sum] = append(seen[sum], canon)
		kept = append(kept, p)
	}

	return kept, dropped
}

func isSeen(bucket [][]byte, canon []byte) bool {
	for _, b := range bucket {
		if bytes.Equal(b, canon) {
			return true
		}
	}
	return false
}
