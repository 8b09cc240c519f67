package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/parlower/internal/samples"
)

// parseParams turns repeated key=value flags into sample parameters.
func parseParams(raw []string) (samples.Params, error) {
	p := samples.Params{}
	for _, kv := range raw {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q: want key=value", kv)
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid param %q: %w", kv, err)
		}
		p[key] = n
	}
	return p, nil
}

// applyConfig sets max_concurrency from the config unless the command
// line already did.
func applyConfig(s samples.Sample, p samples.Params, mc int64) {
	if mc <= 0 {
		return
	}
	if _, ok := s.Defaults["max_concurrency"]; !ok {
		return
	}
	if _, set := p["max_concurrency"]; !set {
		p["max_concurrency"] = mc
	}
}
