// Package redact strips secrets and pseudonymizes network addresses in
// exported records.
package redact

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var sensitiveFragments = []string{"secret", "token", "vendor", "thirdparty", "credential", "password"}

var ipKeys = map[string]struct{}{
	"ip":           {},
	"ipaddress":    {},
	"clientip":     {},
	"remoteip":     {},
	"sourceip":     {},
	"connectionip": {},
}

// Redactor applies the export redaction rules. The zero value is not usable;
// build one with New.
type Redactor struct {
	key []byte
}

func New(salt string) *Redactor {
	sum := blake2b.Sum256([]byte(salt))
	return &Redactor{key: sum[:]}
}

// Record returns a redacted deep copy of rec. The input is not modified.
func (r *Redactor) Record(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for key, value := range rec {
		switch {
		case IsSensitiveKey(key):
			continue
		case IsIPKey(key):
			out[key] = r.Hash(value)
		default:
			out[key] = r.value(value)
		}
	}
	return out
}

// Records redacts every record in order.
func (r *Redactor) Records(records []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		out = append(out, r.Record(rec))
	}
	return out
}

// Hash returns the keyed BLAKE2b-256 digest of the value's string form.
func (r *Redactor) Hash(value any) string {
	h, _ := blake2b.New256(r.key)
	h.Write([]byte(stringify(value)))
	return hex.EncodeToString(h.Sum(nil))
}

func (r *Redactor) value(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return r.Record(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = r.value(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = r.Record(item)
		}
		return out
	default:
		return value
	}
}

func IsSensitiveKey(key string) bool {
	normalized := normalize(key)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func IsIPKey(key string) bool {
	_, ok := ipKeys[normalize(key)]
	return ok
}

func normalize(key string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToLower(key))
}

func stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	default:
		return fmt.Sprint(typed)
	}
}
