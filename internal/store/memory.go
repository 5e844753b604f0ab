package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process PetStore.
type Memory struct {
	mu     sync.RWMutex
	pets   map[int64]Pet
	nextID int64
}

// NewMemory creates a memory store holding seed.
func NewMemory(seed ...Pet) *Memory {
	m := &Memory{pets: make(map[int64]Pet, len(seed))}
	for _, p := range seed {
		m.pets[p.ID] = clonePet(p)
		if p.ID > m.nextID {
			m.nextID = p.ID
		}
	}
	return m
}

func (m *Memory) Create(_ context.Context, pet Pet) (Pet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if pet.ID == 0 {
		m.nextID++
		pet.ID = m.nextID
	} else if pet.ID > m.nextID {
		m.nextID = pet.ID
	}
	m.pets[pet.ID] = clonePet(pet)
	return clonePet(pet), nil
}

func (m *Memory) Update(_ context.Context, pet Pet) (Pet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pets[pet.ID]; !ok {
		return Pet{}, ErrNotFound
	}
	m.pets[pet.ID] = clonePet(pet)
	return clonePet(pet), nil
}

func (m *Memory) FindByStatus(_ context.Context, statuses []Status) ([]Pet, error) {
	return m.filter(func(p Pet) bool {
		for _, s := range statuses {
			if p.Status == s {
				return true
			}
		}
		return false
	}), nil
}

func (m *Memory) FindByTag(_ context.Context, tags []string) ([]Pet, error) {
	return m.filter(func(p Pet) bool { return p.HasTag(tags) }), nil
}

func (m *Memory) filter(keep func(Pet) bool) []Pet {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Pet{}
	for _, p := range m.pets {
		if keep(p) {
			out = append(out, clonePet(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func clonePet(p Pet) Pet {
	if p.Category != nil {
		c := *p.Category
		p.Category = &c
	}
	p.PhotoURLs = append([]string(nil), p.PhotoURLs...)
	p.Tags = append([]Tag(nil), p.Tags...)
	return p
}
