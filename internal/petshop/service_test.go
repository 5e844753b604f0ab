package petshop

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	apierrors "github.com/wudi/petshop/internal/errors"
	"github.com/wudi/petshop/internal/store"
)

type validationCount struct{ n atomic.Int32 }

func (v *validationCount) ValidationError() { v.n.Add(1) }

type probe bool

func (p probe) IsReady(context.Context) bool { return bool(p) }

func newService(opts Options) (*Service, *validationCount) {
	vc := &validationCount{}
	opts.Validation = vc
	return New(opts), vc
}

func TestPetPostValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		details string
	}{
		{"empty", ``, "valid JSON"},
		{"not json", `{"name":`, "valid JSON"},
		{"array", `[]`, "JSON object"},
		{"no name", `{"photoUrls":[]}`, "name is required"},
		{"empty name", `{"name":"","photoUrls":[]}`, "name is required"},
		{"no photos", `{"name":"rex"}`, "photoUrls"},
		{"photo not string", `{"name":"rex","photoUrls":[1]}`, "photoUrls[0]"},
		{"bad status", `{"name":"rex","photoUrls":[],"status":"lost"}`, "status"},
		{"negative id", `{"id":-1,"name":"rex","photoUrls":[]}`, "id must be"},
		{"fractional id", `{"id":1.5,"name":"rex","photoUrls":[]}`, "id must be"},
		{"tag without name", `{"name":"rex","photoUrls":[],"tags":[{"id":1}]}`, "tags[0].name"},
		{"category not object", `{"name":"rex","photoUrls":[],"category":"dogs"}`, "category"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, vc := newService(Options{})
			_, err := svc.PetPost(context.Background(), []byte(tt.body))
			if !errors.Is(err, apierrors.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			ae, _ := apierrors.AsAPIError(err)
			if !strings.Contains(ae.Details, tt.details) {
				t.Errorf("details %q should mention %q", ae.Details, tt.details)
			}
			if vc.n.Load() != 1 {
				t.Errorf("validation counter = %d, want 1", vc.n.Load())
			}
		})
	}
}

func TestPetPostDefaultsStatus(t *testing.T) {
	svc, vc := newService(Options{Store: store.NewMemory()})
	pet, err := svc.PetPost(context.Background(), []byte(`{"name":"rex","photoUrls":["a"],"tags":[{"id":1,"name":"dog"}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if pet.ID != 1 || pet.Status != store.StatusAvailable || pet.Name != "rex" {
		t.Errorf("pet = %+v", pet)
	}
	if vc.n.Load() != 0 {
		t.Error("valid body should not count")
	}
}

func TestPetPut(t *testing.T) {
	svc, _ := newService(Options{})
	ctx := context.Background()

	if _, err := svc.PetPut(ctx, []byte(`{"name":"rex","photoUrls":[]}`)); !errors.Is(err, apierrors.ErrValidation) {
		t.Errorf("put without id should fail validation, got %v", err)
	}
	if _, err := svc.PetPut(ctx, []byte(`{"id":42,"name":"rex","photoUrls":[]}`)); !errors.Is(err, apierrors.ErrNotFound) {
		t.Errorf("put of missing pet should be not found, got %v", err)
	}

	pet, err := svc.PetPut(ctx, []byte(`{"id":1,"name":"renamed","photoUrls":[],"status":"sold"}`))
	if err != nil {
		t.Fatal(err)
	}
	if pet.Name != "renamed" || pet.Status != store.StatusSold {
		t.Errorf("pet = %+v", pet)
	}
}

func TestFindByStatusAndTag(t *testing.T) {
	svc, vc := newService(Options{})
	ctx := context.Background()

	pets, err := svc.PetFindByStatus(ctx, []string{"pending"})
	if err != nil || len(pets) != 2 {
		t.Fatalf("pending = %v, %v", pets, err)
	}
	if _, err := svc.PetFindByStatus(ctx, []string{"lost"}); !errors.Is(err, apierrors.ErrValidation) {
		t.Errorf("unknown status should fail validation, got %v", err)
	}
	if _, err := svc.PetFindByStatus(ctx, nil); !errors.Is(err, apierrors.ErrValidation) {
		t.Errorf("missing status should fail validation, got %v", err)
	}

	pets, err = svc.PetFindByTag(ctx, []string{"TagName1"})
	if err != nil || len(pets) != 1 || pets[0].Name != "PetName1" {
		t.Fatalf("by tag = %v, %v", pets, err)
	}
	if _, err := svc.PetFindByTag(ctx, nil); !errors.Is(err, apierrors.ErrValidation) {
		t.Errorf("missing tags should fail validation, got %v", err)
	}
	if vc.n.Load() != 3 {
		t.Errorf("validation counter = %d, want 3", vc.n.Load())
	}
}

func TestReadiness(t *testing.T) {
	ctx := context.Background()

	svc, _ := newService(Options{})
	if err := svc.Readiness(ctx); err != nil {
		t.Errorf("no probe should be ready, got %v", err)
	}

	svc, _ = newService(Options{Readiness: probe(false)})
	if err := svc.Readiness(ctx); !errors.Is(err, apierrors.ErrServiceUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}

	svc, _ = newService(Options{Readiness: probe(true)})
	if err := svc.Readiness(ctx); err != nil {
		t.Errorf("expected ready, got %v", err)
	}
}

func TestCSRFWithoutGuard(t *testing.T) {
	svc, _ := newService(Options{})
	if err := svc.CSRF(context.Background()); err != nil {
		t.Errorf("disabled guard should allow the call, got %v", err)
	}
}
