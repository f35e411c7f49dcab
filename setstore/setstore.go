package setstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// SetStore answers membership queries against named string sets (honeypot
// surfaces, link-domain allowlists, profanity token lists).
type SetStore interface {
	InSet(ctx context.Context, name, val string) (bool, error)
}

type MemSetStore struct {
	lk   sync.RWMutex
	sets map[string]map[string]bool
}

func NewMemSetStore() *MemSetStore {
	return &MemSetStore{
		sets: make(map[string]map[string]bool),
	}
}

var _ SetStore = (*MemSetStore)(nil)

func (s *MemSetStore) InSet(ctx context.Context, name, val string) (bool, error) {
	s.lk.RLock()
	defer s.lk.RUnlock()
	set, ok := s.sets[name]
	if !ok {
		return false, fmt.Errorf("not a known set: %s", name)
	}
	return set[val], nil
}

func (s *MemSetStore) Add(name string, vals ...string) {
	s.lk.Lock()
	defer s.lk.Unlock()
	set, ok := s.sets[name]
	if !ok {
		set = make(map[string]bool)
		s.sets[name] = set
	}
	for _, v := range vals {
		set[v] = true
	}
}

// LoadFromFileJSON replaces the store contents with a JSON object mapping
// set names to arrays of member strings.
func (s *MemSetStore) LoadFromFileJSON(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var parsed map[string][]string
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parsing set file: %w", err)
	}
	sets := make(map[string]map[string]bool, len(parsed))
	for name, vals := range parsed {
		m := make(map[string]bool, len(vals))
		for _, v := range vals {
			m[v] = true
		}
		sets[name] = m
	}
	s.lk.Lock()
	s.sets = sets
	s.lk.Unlock()
	return nil
}
