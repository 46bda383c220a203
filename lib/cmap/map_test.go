package cmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapGetSetDelete(t *testing.T) {
	m := NewMap[string, int]()

	_, ok := m.Get("a")
	assert.False(t, ok)

	m.Set("a", 1)
	v, ok := m.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	m.Delete("a")
	_, ok = m.Get("a")
	assert.False(t, ok)
}

func TestMapGetOrSetConcurrent(t *testing.T) {
	m := NewMap[string, *sync.Mutex]()

	var wg sync.WaitGroup
	results := make([]*sync.Mutex, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = m.GetOrSet("key", &sync.Mutex{})
		}(i)
	}
	wg.Wait()

	for _, mu := range results {
		assert.Same(t, results[0], mu)
	}
}

func TestMapRange(t *testing.T) {
	m := NewMap[string, int]()
	m.Set("a", 1)
	m.Set("b", 2)

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	assert.Equal(t, 3, sum)
}
