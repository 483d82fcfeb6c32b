package document

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicledger/costing/internal/domain/entities"
	"github.com/clinicledger/costing/internal/domain/repositories"
	apperrors "github.com/clinicledger/costing/pkg/errors"
)

func newMemoryStore(policy CorruptionPolicy) (*Store, *MemoryBackend) {
	backend := NewMemoryBackend()
	return NewStore(backend, policy, zerolog.Nop(), nil), backend
}

func TestStore_LoadEmptyReturnsDefaults(t *testing.T) {
	store, _ := newMemoryStore(CorruptionPolicyReset)

	doc, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, doc.Snapshots)
	assert.Equal(t, entities.DocumentSchemaVersion, doc.Metadata.Version)
}

func TestStore_MutatePersistsAndBumpsRevision(t *testing.T) {
	store, _ := newMemoryStore(CorruptionPolicyReset)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		err := store.Mutate(ctx, func(doc *entities.Document) error {
			doc.Snapshots["s1"] = entities.Snapshot{ID: "s1", Month: "2025-01", Status: entities.SnapshotStatusDraft}
			return nil
		})
		require.NoError(t, err)
	}

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Metadata.Revision)
	require.NotNil(t, doc.Metadata.UpdatedAt)
	assert.Equal(t, "2025-01", doc.Snapshots["s1"].Month)
}

func TestStore_FailedMutationWritesNothing(t *testing.T) {
	store, _ := newMemoryStore(CorruptionPolicyReset)
	ctx := context.Background()
	sentinel := apperrors.NewConflictError("duplicate month")

	err := store.Mutate(ctx, func(doc *entities.Document) error {
		doc.Snapshots["s1"] = entities.Snapshot{ID: "s1"}
		return sentinel
	})
	assert.Same(t, sentinel, err)

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Snapshots)
	assert.Zero(t, doc.Metadata.Revision)
}

func TestStore_LoadReturnsDetachedCopy(t *testing.T) {
	store, _ := newMemoryStore(CorruptionPolicyReset)
	ctx := context.Background()
	require.NoError(t, store.Mutate(ctx, func(doc *entities.Document) error {
		doc.Staff["s1"] = []entities.StaffCapacity{{RoleName: "Nurse"}}
		return nil
	}))

	first, err := store.Load(ctx)
	require.NoError(t, err)
	first.Staff["s1"][0].RoleName = "Changed"

	second, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Nurse", second.Staff["s1"][0].RoleName)
}

func TestStore_CorruptionReset(t *testing.T) {
	store, backend := newMemoryStore(CorruptionPolicyReset)
	ctx := context.Background()
	require.NoError(t, backend.Write(ctx, []byte(`{"snapshots": [broken`)))

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, doc.Snapshots)

	raw, err := backend.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"snapshots":{}`, "the default document replaces the corrupted payload")
}

func TestStore_CorruptionFail(t *testing.T) {
	store, backend := newMemoryStore(CorruptionPolicyFail)
	ctx := context.Background()
	require.NoError(t, backend.Write(ctx, []byte(`not json`)))

	_, err := store.Load(ctx)
	assert.True(t, apperrors.IsPersistenceCorrupted(err))

	err = store.Mutate(ctx, func(*entities.Document) error { return nil })
	assert.True(t, apperrors.IsPersistenceCorrupted(err))
}

type failingBackend struct{ MemoryBackend }

func (f *failingBackend) Write(context.Context, []byte) error { return errors.New("disk full") }

func (f *failingBackend) WriteIfVersion(context.Context, []byte, int64) error {
	return errors.New("disk full")
}

func TestStore_WriteFailureIsInternal(t *testing.T) {
	store := NewStore(&failingBackend{}, CorruptionPolicyReset, zerolog.Nop(), nil)

	err := store.Mutate(context.Background(), func(*entities.Document) error { return nil })
	assert.Equal(t, apperrors.ErrorTypeInternal, apperrors.TypeOf(err))
}

func TestStore_CancelledContext(t *testing.T) {
	store, _ := newMemoryStore(CorruptionPolicyReset)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := store.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, store.Mutate(ctx, func(*entities.Document) error { return nil }), context.Canceled)
}

func TestStore_ConcurrentMutationsSerialize(t *testing.T) {
	store, _ := newMemoryStore(CorruptionPolicyReset)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Mutate(ctx, func(doc *entities.Document) error {
				doc.Jobs = append(doc.Jobs, entities.RecalculationJob{JobID: entities.NewID()})
				return nil
			})
		}()
	}
	wg.Wait()

	doc, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.Jobs, 20)
	assert.Equal(t, int64(20), doc.Metadata.Revision)
}

func TestStore_SharedBackendRetriesLostWrite(t *testing.T) {
	backend := NewMemoryBackend()
	a := NewStore(backend, CorruptionPolicyFail, zerolog.Nop(), nil)
	b := NewStore(backend, CorruptionPolicyFail, zerolog.Nop(), nil)
	ctx := context.Background()

	calls := 0
	err := a.Mutate(ctx, func(doc *entities.Document) error {
		calls++
		if calls == 1 {
			// b commits between a's read and a's write
			require.NoError(t, b.Mutate(ctx, func(doc *entities.Document) error {
				doc.Snapshots["from-b"] = entities.Snapshot{ID: "from-b", Month: "2025-02"}
				return nil
			}))
		}
		doc.Snapshots["from-a"] = entities.Snapshot{ID: "from-a", Month: "2025-01"}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	doc, err := a.Load(ctx)
	require.NoError(t, err)
	assert.Contains(t, doc.Snapshots, "from-a")
	assert.Contains(t, doc.Snapshots, "from-b")
	assert.Equal(t, int64(2), doc.Metadata.Revision)
}

func TestStore_SharedBackendConflictAfterAttempts(t *testing.T) {
	backend := NewMemoryBackend()
	a := NewStore(backend, CorruptionPolicyFail, zerolog.Nop(), nil).WithMutateAttempts(2)
	b := NewStore(backend, CorruptionPolicyFail, zerolog.Nop(), nil)
	ctx := context.Background()

	calls := 0
	err := a.Mutate(ctx, func(doc *entities.Document) error {
		calls++
		require.NoError(t, b.Mutate(ctx, func(doc *entities.Document) error {
			doc.Jobs = append(doc.Jobs, entities.RecalculationJob{JobID: entities.NewID()})
			return nil
		}))
		doc.Snapshots["from-a"] = entities.Snapshot{ID: "from-a"}
		return nil
	})
	assert.True(t, apperrors.IsConflict(err))
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, 2, calls)

	doc, err := b.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, doc.Snapshots, "from-a")
	assert.Len(t, doc.Jobs, 2)
}

func TestMemoryBackend_WriteIfVersion(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	_, version, err := backend.ReadVersion(ctx)
	require.NoError(t, err)
	require.NoError(t, backend.WriteIfVersion(ctx, []byte(`{}`), version))
	assert.ErrorIs(t, backend.WriteIfVersion(ctx, []byte(`{"stale":true}`), version), ErrVersionConflict)

	data, current, err := backend.ReadVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, version+1, current)
	assert.Equal(t, `{}`, string(data))
}

func TestMutateWith_ReturnsValue(t *testing.T) {
	store, _ := newMemoryStore(CorruptionPolicyReset)

	id, err := repositories.MutateWith(context.Background(), store, func(doc *entities.Document) (string, error) {
		id := entities.NewID()
		doc.Snapshots[id] = entities.Snapshot{ID: id}
		return id, nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("fail")
	require.NoError(t, err)
	assert.Equal(t, CorruptionPolicyFail, p)

	_, err = ParsePolicy("ignore")
	assert.True(t, apperrors.IsValidation(err))
}
