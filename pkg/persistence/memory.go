package persistence

import (
	"encoding/json"
	"strings"
	"sync"
)

type MemoryService struct {
	mu    sync.Mutex
	slots map[string][]byte
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		slots: make(map[string][]byte),
	}
}

func (s *MemoryService) NewStore(id string, subIDs ...string) Store {
	key := strings.Join(append([]string{id}, subIDs...), ":")
	return &MemoryStore{
		key:    key,
		memory: s,
	}
}

type MemoryStore struct {
	key    string
	memory *MemoryService
}

func (store *MemoryStore) Save(val interface{}) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}

	store.memory.mu.Lock()
	store.memory.slots[store.key] = data
	store.memory.mu.Unlock()
	return nil
}

func (store *MemoryStore) Load(val interface{}) error {
	store.memory.mu.Lock()
	data, ok := store.memory.slots[store.key]
	store.memory.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	return json.Unmarshal(data, val)
}
