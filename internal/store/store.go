// Package store persists pets for the petshop API.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a pet does not exist.
var ErrNotFound = errors.New("pet not found")

// Status is the lifecycle state of a pet.
type Status string

const (
	StatusAvailable Status = "available"
	StatusPending   Status = "pending"
	StatusSold      Status = "sold"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusAvailable, StatusPending, StatusSold:
		return true
	}
	return false
}

// Category groups pets.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Tag labels a pet.
type Tag struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Pet is a pet in the store.
type Pet struct {
	ID        int64     `json:"id"`
	Category  *Category `json:"category,omitempty"`
	Name      string    `json:"name"`
	PhotoURLs []string  `json:"photoUrls"`
	Tags      []Tag     `json:"tags,omitempty"`
	Status    Status    `json:"status"`
}

// HasTag reports whether the pet carries any of names.
func (p Pet) HasTag(names []string) bool {
	for _, t := range p.Tags {
		for _, n := range names {
			if t.Name == n {
				return true
			}
		}
	}
	return false
}

// PetStore is implemented by every pet backend.
type PetStore interface {
	// Create stores a new pet. A zero ID is assigned by the store.
	Create(ctx context.Context, pet Pet) (Pet, error)
	// Update replaces an existing pet and returns ErrNotFound if it is missing.
	Update(ctx context.Context, pet Pet) (Pet, error)
	FindByStatus(ctx context.Context, statuses []Status) ([]Pet, error)
	FindByTag(ctx context.Context, tags []string) ([]Pet, error)
	// Ping reports whether the store can serve queries.
	Ping(ctx context.Context) error
	Close()
}

// SamplePets returns the pets the service starts with when no database is
// configured.
func SamplePets() []Pet {
	return []Pet{
		{
			ID:        1,
			Category:  &Category{ID: 1, Name: "CategoryName1"},
			Name:      "PetName1",
			PhotoURLs: []string{"PhotoUrl1"},
			Tags:      []Tag{{ID: 1, Name: "TagName1"}},
			Status:    StatusPending,
		},
		{
			ID:        2,
			Category:  &Category{ID: 2, Name: "CategoryName2"},
			Name:      "PetName2",
			PhotoURLs: []string{"PhotoUrl2"},
			Tags:      []Tag{{ID: 2, Name: "TagName2"}},
			Status:    StatusPending,
		},
	}
}
