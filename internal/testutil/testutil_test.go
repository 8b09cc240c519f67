package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialHandles_Order(t *testing.T) {
	g := NewSequentialHandles("")
	assert.Equal(t, "module-test-1", g.Generate())
	assert.Equal(t, "module-test-2", g.Generate())

	g.Reset()
	assert.Equal(t, "module-test-1", g.Generate())
}

func TestSequentialHandles_ConcurrentUnique(t *testing.T) {
	g := NewSequentialHandles("h")
	const n = 200
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := g.Generate()
			mu.Lock()
			seen[h] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestLogBuffer_CapturesDebug(t *testing.T) {
	var buf LogBuffer
	buf.Logger().Debug("pass done", "pass", "canonicalize")
	assert.Contains(t, buf.String(), `"msg":"pass done"`)
	assert.Contains(t, buf.String(), `"pass":"canonicalize"`)
}

func TestNewLogger_WritesThroughTB(t *testing.T) {
	NewLogger(t).Info("visible with -v")
}
