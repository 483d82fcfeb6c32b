package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/repositories"
	"github.com/clinicledger/costing/internal/infrastructure/observability"
	apperrors "github.com/clinicledger/costing/pkg/errors"
	"github.com/clinicledger/costing/pkg/retry"
)

// CorruptionPolicy decides what happens when the stored payload cannot be decoded
type CorruptionPolicy string

const (
	// CorruptionPolicyReset logs, counts and replaces the payload with an empty document
	CorruptionPolicyReset CorruptionPolicy = "reset"
	// CorruptionPolicyFail returns a PersistenceCorrupted error
	CorruptionPolicyFail CorruptionPolicy = "fail"
)

// Store implements repositories.DocumentStore over a Backend.
// Load and Mutate are serialized by a mutex; every Mutate rewrites the whole payload.
// Over a ConditionalBackend a write that lost a race with another process is retried from a fresh read.
type Store struct {
	backend Backend
	policy  CorruptionPolicy
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	retry   retry.Config

	mu sync.Mutex
}

var _ repositories.DocumentStore = (*Store)(nil)

// NewStore creates a document store. metrics may be nil.
func NewStore(backend Backend, policy CorruptionPolicy, logger zerolog.Logger, metrics *observability.Metrics) *Store {
	if policy == "" {
		policy = CorruptionPolicyReset
	}
	return &Store{
		backend: backend,
		policy:  policy,
		logger:  logger.With().Str("backend", backend.Name()).Logger(),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		retry:   mutateRetryConfig(0),
	}
}

// WithMutateAttempts bounds how often a conflicting write is retried
func (s *Store) WithMutateAttempts(attempts int) *Store {
	s.retry = mutateRetryConfig(attempts)
	return s
}

func mutateRetryConfig(attempts int) retry.Config {
	cfg := retry.DefaultConfig()
	if attempts > 0 {
		cfg.MaxAttempts = attempts
	}
	cfg.Retryable = func(err error) bool { return errors.Is(err, ErrVersionConflict) }
	return cfg
}

// Backend returns the underlying backend
func (s *Store) Backend() Backend { return s.backend }

// Load returns a deep copy of the stored document with defaults filled in
func (s *Store) Load(ctx context.Context) (*entities.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	return doc.Clone(), nil
}

// Mutate applies fn to the stored document and writes it back.
// If fn fails the stored payload is left untouched.
func (s *Store) Mutate(ctx context.Context, fn func(doc *entities.Document) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.backend.(ConditionalBackend)
	if !ok {
		doc, err := s.read(ctx)
		if err != nil {
			return err
		}
		if err := s.apply(doc, fn); err != nil {
			return err
		}
		if err := s.write(ctx, doc); err != nil {
			return err
		}
		s.metrics.RecordMutation(ctx, s.backend.Name())
		return nil
	}

	err := retry.DoWithLog(ctx, s.retry, "document.mutate", s.logger, func() error {
		return s.mutateConditional(ctx, cb, fn)
	})
	if errors.Is(err, ErrVersionConflict) {
		return &apperrors.AppError{
			Type:    apperrors.ErrorTypeConflict,
			Message: "costing document was modified concurrently",
			Err:     err,
		}
	}
	if err != nil {
		return err
	}
	s.metrics.RecordMutation(ctx, s.backend.Name())
	return nil
}

func (s *Store) mutateConditional(ctx context.Context, cb ConditionalBackend, fn func(doc *entities.Document) error) error {
	data, version, err := cb.ReadVersion(ctx)
	if err != nil {
		return apperrors.NewInternalError("failed to read costing document", err)
	}
	doc, err := s.decode(ctx, data)
	if err != nil {
		return err
	}
	if err := s.apply(doc, fn); err != nil {
		return err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewInternalError("failed to encode costing document", err)
	}
	if err := cb.WriteIfVersion(ctx, payload, version); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return err
		}
		return apperrors.NewInternalError("failed to write costing document", err)
	}
	return nil
}

func (s *Store) apply(doc *entities.Document, fn func(doc *entities.Document) error) error {
	if err := fn(doc); err != nil {
		return err
	}
	doc.Normalize()
	now := s.now()
	doc.Metadata.Revision++
	doc.Metadata.UpdatedAt = &now
	return nil
}

func (s *Store) read(ctx context.Context) (*entities.Document, error) {
	data, err := s.backend.Read(ctx)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to read costing document", err)
	}
	return s.decode(ctx, data)
}

func (s *Store) decode(ctx context.Context, data []byte) (*entities.Document, error) {
	if len(data) == 0 {
		return entities.NewDocument(), nil
	}

	var doc entities.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return s.recover(ctx, err)
	}
	doc.Normalize()
	return &doc, nil
}

func (s *Store) recover(ctx context.Context, cause error) (*entities.Document, error) {
	if s.policy == CorruptionPolicyFail {
		return nil, apperrors.NewPersistenceCorruptedError("failed to decode costing document", cause)
	}

	s.logger.Warn().Err(cause).Msg("costing document is unreadable, resetting to an empty document")
	s.metrics.RecordReset(ctx, s.backend.Name())

	doc := entities.NewDocument()
	if err := s.write(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) write(ctx context.Context, doc *entities.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewInternalError("failed to encode costing document", err)
	}
	if err := s.backend.Write(ctx, data); err != nil {
		return apperrors.NewInternalError("failed to write costing document", err)
	}
	return nil
}

// ParsePolicy maps a configuration value to a CorruptionPolicy
func ParsePolicy(value string) (CorruptionPolicy, error) {
	switch CorruptionPolicy(value) {
	case CorruptionPolicyReset, CorruptionPolicyFail:
		return CorruptionPolicy(value), nil
	}
	return "", apperrors.NewValidationError(fmt.Sprintf("unknown corruption policy %q", value))
}
