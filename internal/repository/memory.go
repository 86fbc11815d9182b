package repository

import (
	"context"
	"sync"
)

type MemoryKVStore struct {
	values sync.Map
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{}
}

func (r *MemoryKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, ok := r.values.Load(key)
	if !ok {
		return nil, ErrNotFound
	}
	stored := val.([]byte)
	out := make([]byte, len(stored))
	copy(out, stored)
	return out, nil
}

func (r *MemoryKVStore) Set(ctx context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	r.values.Store(key, stored)
	return nil
}

func (r *MemoryKVStore) Delete(ctx context.Context, key string) error {
	r.values.Delete(key)
	return nil
}
