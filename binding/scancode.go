package binding

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Structured scan payload keys checked in priority order: an explicit
// identifier first, then serial-number variants.
var scanCodeKeys = []string{"identifier", "serial", "serial_number", "sn"}

// ParseScannedCode extracts the battery identifier from a scanned code. The
// payload may be a JSON object or a bare string; structured fields take
// priority over the raw text.
func ParseScannedCode(code string) (string, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return "", fmt.Errorf("empty scanned code")
	}

	if strings.HasPrefix(trimmed, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(trimmed), &obj); err == nil {
			for _, key := range scanCodeKeys {
				if v, ok := obj[key].(string); ok && strings.TrimSpace(v) != "" {
					return strings.TrimSpace(v), nil
				}
			}
		}
		// Malformed or field-less objects fall back to the raw text.
	}

	return trimmed, nil
}

// ShortIdentifier returns the trailing n characters of an identifier.
func ShortIdentifier(id string, n int) string {
	if n <= 0 || len(id) <= n {
		return id
	}
	return id[len(id)-n:]
}
