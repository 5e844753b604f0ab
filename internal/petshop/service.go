// Package petshop implements the petshop API served over gRPC and HTTP.
package petshop

import (
	"context"
	"errors"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	apierrors "github.com/wudi/petshop/internal/errors"
	"github.com/wudi/petshop/internal/logging"
	"github.com/wudi/petshop/internal/middleware/csrf"
	"github.com/wudi/petshop/internal/store"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "petshop.Petshop"

// ValidationCounter receives one call per rejected request body.
type ValidationCounter interface {
	ValidationError()
}

// ReadinessProbe decides whether the service can take traffic.
type ReadinessProbe interface {
	IsReady(ctx context.Context) bool
}

// Options configures a Service.
type Options struct {
	Store      store.PetStore
	Guard      *csrf.Guard
	Validation ValidationCounter
	Readiness  ReadinessProbe
	// Schema, when set, is checked after the built-in pet field checks
	Schema *jsonschema.Schema
	// StreamInterval is the delay between streamed echo messages
	StreamInterval time.Duration
	// StreamCount is the number of streamed echo messages
	StreamCount int
}

// Service holds the transport-independent API logic.
type Service struct {
	store          store.PetStore
	guard          *csrf.Guard
	validation     ValidationCounter
	readiness      ReadinessProbe
	schema         *jsonschema.Schema
	streamInterval time.Duration
	streamCount    int
}

// New creates a service. A nil guard behaves as a disabled guard and a nil
// store is replaced with the sample memory store.
func New(opts Options) *Service {
	s := &Service{
		store:          opts.Store,
		guard:          opts.Guard,
		validation:     opts.Validation,
		readiness:      opts.Readiness,
		schema:         opts.Schema,
		streamInterval: opts.StreamInterval,
		streamCount:    opts.StreamCount,
	}
	if s.store == nil {
		s.store = store.NewMemory(store.SamplePets()...)
	}
	if s.guard == nil {
		s.guard = csrf.New(nil, nil)
	}
	if s.streamInterval <= 0 {
		s.streamInterval = time.Second
	}
	if s.streamCount <= 0 {
		s.streamCount = 3
	}
	return s
}

// JSON echoes an arbitrary JSON object.
func (s *Service) JSON(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	logging.Debug("json request")
	if in == nil {
		in = &structpb.Struct{}
	}
	return in, nil
}

// CSRF is a protected no-op mutation: it requires a matching token and
// consumes it so the response carries a fresh one.
func (s *Service) CSRF(ctx context.Context) error {
	if err := s.guard.RequestCheck(ctx); err != nil {
		return err
	}
	s.guard.ResponseUsed(ctx)
	return nil
}

// PetPost validates body and stores it as a new pet.
func (s *Service) PetPost(ctx context.Context, body []byte) (store.Pet, error) {
	pet, err := s.decode(body, false)
	if err != nil {
		return store.Pet{}, err
	}
	created, err := s.store.Create(ctx, pet)
	if err != nil {
		return store.Pet{}, storeError(err)
	}
	logging.Info("pet created", zap.Int64("id", created.ID))
	return created, nil
}

// PetPut validates body and replaces an existing pet.
func (s *Service) PetPut(ctx context.Context, body []byte) (store.Pet, error) {
	pet, err := s.decode(body, true)
	if err != nil {
		return store.Pet{}, err
	}
	updated, err := s.store.Update(ctx, pet)
	if err != nil {
		return store.Pet{}, storeError(err)
	}
	return updated, nil
}

// PetFindByStatus returns the pets in any of statuses.
func (s *Service) PetFindByStatus(ctx context.Context, statuses []string) ([]store.Pet, error) {
	if len(statuses) == 0 {
		return nil, s.invalid("status is required")
	}
	parsed := make([]store.Status, 0, len(statuses))
	for _, v := range statuses {
		st := store.Status(v)
		if !st.Valid() {
			return nil, s.invalid("unknown status " + v)
		}
		parsed = append(parsed, st)
	}
	pets, err := s.store.FindByStatus(ctx, parsed)
	if err != nil {
		return nil, storeError(err)
	}
	return pets, nil
}

// PetFindByTag returns the pets carrying any of tags.
func (s *Service) PetFindByTag(ctx context.Context, tags []string) ([]store.Pet, error) {
	if len(tags) == 0 {
		return nil, s.invalid("tags is required")
	}
	pets, err := s.store.FindByTag(ctx, tags)
	if err != nil {
		return nil, storeError(err)
	}
	return pets, nil
}

// Readiness fails with ErrServiceUnavailable when the probe fails.
func (s *Service) Readiness(ctx context.Context) error {
	if s.readiness == nil {
		return nil
	}
	if !s.readiness.IsReady(ctx) {
		return apierrors.ErrServiceUnavailable
	}
	return nil
}

func storeError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apierrors.ErrNotFound.WithDetails(err.Error())
	}
	logging.Error("store error", zap.Error(err))
	return apierrors.Wrap(err, apierrors.ErrInternalServer.Code, apierrors.ErrInternalServer.Message)
}
