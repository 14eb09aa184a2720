package internal

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex serializes operations per key using a fixed pool of striped
// locks. Two different keys may share a stripe; that costs throughput, never
// correctness.
type KeyedMutex struct {
	stripes []sync.Mutex
}

func NewKeyedMutex(stripes int) *KeyedMutex {
	if stripes <= 0 {
		stripes = 64
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, stripes)}
}

func (m *KeyedMutex) Lock(key string) {
	m.stripes[m.index(key)].Lock()
}

func (m *KeyedMutex) Unlock(key string) {
	m.stripes[m.index(key)].Unlock()
}

func (m *KeyedMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.stripes)))
}
