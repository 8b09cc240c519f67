package engine

import (
	goruntime "runtime"
	"strings"

	"golang.org/x/sys/cpu"

	"github.com/roach88/parlower/internal/ir"
)

// IndexWidth is the only index bit width the engine executes.
const IndexWidth = 64

// Target describes the host the engine compiles for.
type Target struct {
	CPU      string
	Features []string
}

// HostTarget returns the running machine's architecture and the CPU
// features relevant to vectorized loops.
func HostTarget() Target {
	var feats []string
	add := func(ok bool, name string) {
		if ok {
			feats = append(feats, "+"+name)
		}
	}
	switch goruntime.GOARCH {
	case "amd64", "386":
		add(cpu.X86.HasSSE2, "sse2")
		add(cpu.X86.HasSSE3, "sse3")
		add(cpu.X86.HasSSSE3, "ssse3")
		add(cpu.X86.HasSSE41, "sse4.1")
		add(cpu.X86.HasSSE42, "sse4.2")
		add(cpu.X86.HasPOPCNT, "popcnt")
		add(cpu.X86.HasAVX, "avx")
		add(cpu.X86.HasAVX2, "avx2")
		add(cpu.X86.HasFMA, "fma")
		add(cpu.X86.HasBMI1, "bmi")
		add(cpu.X86.HasBMI2, "bmi2")
		add(cpu.X86.HasAVX512F, "avx512f")
	case "arm64":
		add(cpu.ARM64.HasFP, "fp-armv8")
		add(cpu.ARM64.HasASIMD, "neon")
		add(cpu.ARM64.HasAES, "aes")
		add(cpu.ARM64.HasSHA2, "sha2")
		add(cpu.ARM64.HasCRC32, "crc")
		add(cpu.ARM64.HasATOMICS, "lse")
	}
	return Target{CPU: goruntime.GOARCH, Features: feats}
}

// attach stamps every function of m with the target attributes.
func (t Target) attach(m *ir.Module) {
	features := strings.Join(t.Features, ",")
	for _, op := range m.Funcs() {
		attrs := m.Op(op).Attrs
		attrs[ir.AttrTargetCPU] = ir.StringAttr(t.CPU)
		attrs[ir.AttrTargetFeatures] = ir.StringAttr(features)
	}
}
