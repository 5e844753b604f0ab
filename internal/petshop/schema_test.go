package petshop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apierrors "github.com/wudi/petshop/internal/errors"
	"github.com/wudi/petshop/internal/store"
)

const shortNames = `{
	"type": "object",
	"properties": {
		"name": {"type": "string", "maxLength": 4},
		"status": {"enum": ["available", "sold"]}
	}
}`

func TestCompileSchema(t *testing.T) {
	if s, err := CompileSchema("", ""); s != nil || err != nil {
		t.Errorf("empty = %v, %v", s, err)
	}
	if _, err := CompileSchema(`{"type":`, ""); err == nil {
		t.Error("expected parse error")
	}
	if _, err := CompileSchema(`{"type": 5}`, ""); err == nil {
		t.Error("expected compile error")
	}
	if _, err := CompileSchema("", filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected read error")
	}

	path := filepath.Join(t.TempDir(), "pet.json")
	if err := os.WriteFile(path, []byte(shortNames), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := CompileSchema("", path)
	if err != nil || s == nil {
		t.Fatalf("file = %v, %v", s, err)
	}
}

func TestPetPostSchema(t *testing.T) {
	schema, err := CompileSchema(shortNames, "")
	if err != nil {
		t.Fatal(err)
	}
	svc, vc := newService(Options{Store: store.NewMemory(), Schema: schema})
	ctx := context.Background()

	if _, err := svc.PetPost(ctx, []byte(`{"name":"rex","photoUrls":[]}`)); err != nil {
		t.Fatalf("short name with defaulted status should pass, got %v", err)
	}

	_, err = svc.PetPost(ctx, []byte(`{"name":"rexford","photoUrls":[]}`))
	if !errors.Is(err, apierrors.ErrValidation) {
		t.Fatalf("long name should fail, got %v", err)
	}
	ae, _ := apierrors.AsAPIError(err)
	if !strings.HasPrefix(ae.Details, "schema: ") {
		t.Errorf("details = %q", ae.Details)
	}

	if _, err := svc.PetPost(ctx, []byte(`{"name":"rex","photoUrls":[],"status":"pending"}`)); !errors.Is(err, apierrors.ErrValidation) {
		t.Errorf("status outside the schema enum should fail, got %v", err)
	}
	if vc.n.Load() != 2 {
		t.Errorf("validation counter = %d, want 2", vc.n.Load())
	}
}
