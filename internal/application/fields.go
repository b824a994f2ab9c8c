package application

import (
	"fmt"
	"strings"

	"github.com/davarch/regsync/internal/domain"
)

// ResolveBase picks the first base, in listing order, whose name contains
// name case-insensitively.
func ResolveBase(bases []domain.Base, name string) (domain.Base, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	if want == "" {
		return domain.Base{}, fmt.Errorf("empty base name: %w", domain.ErrNoBase)
	}

	for _, b := range bases {
		if strings.Contains(strings.ToLower(b.Name), want) {
			return b, nil
		}
	}

	return domain.Base{}, fmt.Errorf("base %q: %w", name, domain.ErrNoBase)
}

// NormalizeFields strips newlines from string values and doubles a trailing
// backslash so values survive the pipeline attribute API.
func NormalizeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		s = strings.ReplaceAll(s, "\n", "")
		if strings.HasSuffix(s, `\`) {
			s += `\`
		}
		out[k] = s
	}
	return out
}

// scalar reads a record value as a single string. Lists yield their first
// element.
func scalar(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		if len(val) == 0 {
			return ""
		}
		return val[0]
	case []any:
		if len(val) == 0 {
			return ""
		}
		return scalar(val[0])
	default:
		return fmt.Sprint(val)
	}
}

// fieldMatches compares a record value with a wanted value. List values
// match when they contain the wanted value.
func fieldMatches(have, want any) bool {
	w := scalar(want)
	if w == "" {
		return false
	}

	switch val := have.(type) {
	case []string:
		for _, s := range val {
			if s == w {
				return true
			}
		}
		return false
	case []any:
		for _, s := range val {
			if scalar(s) == w {
				return true
			}
		}
		return false
	default:
		return scalar(have) == w
	}
}

// MatchRecord returns the first record whose key fields all equal data.
func MatchRecord(records []domain.RegistryRecord, data map[string]any, keys []string) domain.MatchResult {
	if len(keys) == 0 {
		return domain.MatchResult{}
	}

	for _, r := range records {
		if len(r.Fields) == 0 {
			continue
		}

		ok := true
		for _, k := range keys {
			have, present := r.Fields[k]
			if !present || !fieldMatches(have, data[k]) {
				ok = false
				break
			}
		}
		if ok {
			return domain.MatchResult{Found: true, RecordID: r.ID}
		}
	}

	return domain.MatchResult{}
}
