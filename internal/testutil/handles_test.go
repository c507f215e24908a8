package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialHandleGenerator_Format(t *testing.T) {
	gen := NewSequentialHandleGenerator()

	assert.Equal(t, "0x0000000000000000000000000000000000000001", gen.Generate())
	assert.Equal(t, "0x0000000000000000000000000000000000000002", gen.Generate())
}

func TestSequentialHandleGenerator_Deterministic(t *testing.T) {
	a := NewSequentialHandleGenerator()
	b := NewSequentialHandleGenerator()

	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Generate(), b.Generate())
	}
}

func TestSequentialHandleGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequentialHandleGenerator()
	const workers = 10
	const perWorker = 100

	var mu sync.Mutex
	seen := make(map[string]bool)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				h := gen.Generate()
				mu.Lock()
				seen[h] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
}

func TestFixedHandleGenerator_InOrder(t *testing.T) {
	gen := NewFixedHandleGenerator("v1", "relay")

	assert.Equal(t, "v1", gen.Generate())
	assert.Equal(t, "relay", gen.Generate())
}

func TestFixedHandleGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedHandleGenerator("only")
	gen.Generate()

	require.PanicsWithValue(t, "FixedHandleGenerator: all handles exhausted", func() {
		gen.Generate()
	})
}
