package ty

import (
	"errors"
	"fmt"
	"sync"
)

// Lazy is a function that returns a value of type T, computing it only once.
type Lazy[T interface{}] func() (*T, error)

// GetLazy returns a Lazy function that memoizes the result of the provided function.
// A failed computation is not cached and is attempted again on the next call.
func GetLazy[T interface{}](lazy func() (*T, error)) Lazy[T] {
	var (
		mu    sync.Mutex
		cache *T
	)
	return func() (*T, error) {
		mu.Lock()
		defer mu.Unlock()
		if cache != nil {
			return cache, nil
		}
		cacheTmp, err := lazy()
		if err != nil {
			return cache, err
		}
		cache = cacheTmp
		return cache, nil
	}
}

// LazyMap is a map of strings to Lazy values.
type LazyMap[K string, V interface{}] map[K]Lazy[V]

// ErrLazyNotFound is returned by LazyMap.Get for unknown keys.
var ErrLazyNotFound = errors.New("not found")

// Get retrieves the value associated with key, computing it if necessary.
func (lm LazyMap[K, V]) Get(key K) (*V, error) {
	val, ok := lm[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLazyNotFound, string(key))
	}
	return val()
}
