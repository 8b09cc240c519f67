package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows the algorithm to change without collisions.
const (
	DomainModule   = "parlower/module/v1"
	DomainPipeline = "parlower/pipeline/v1"
)

// FormatVersion tags the printed IR format that module hashes cover.
const FormatVersion = "parlower-ir/1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ModuleHash computes the identity of a module from its printed form and
// its sorted symbol names. Structurally identical modules hash equal.
func ModuleHash(m *Module) (string, error) {
	var names []string
	for _, fn := range m.Funcs() {
		names = append(names, AsFunc(m, fn).Name())
	}
	slices.Sort(names)
	doc := map[string]any{
		"format":  FormatVersion,
		"symbols": names,
		"text":    Print(m),
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("ModuleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainModule, canonical), nil
}

// PipelineHash identifies a pipeline configuration given its pass names
// and options.
func PipelineHash(passes []string, options map[string]any) (string, error) {
	doc := map[string]any{
		"passes":  passes,
		"options": options,
	}
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("PipelineHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainPipeline, canonical), nil
}
