package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newIdempotencyRepo() (*memory.IdempotencyRepository, *manualClock) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return memory.NewIdempotencyRepository().WithClock(clock.Now), clock
}

func TestIdempotencyRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()
	ttl := clock.Now().Add(2 * time.Hour)

	created, err := repo.CreateProcessing(ctx, " sale-create-1 ", "hash-1", ttl)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)
	assert.Equal(t, "sale-create-1", created.Key)

	got, err := repo.Get(ctx, "sale-create-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.RequestHash)
	assert.True(t, got.TTLAt.Equal(ttl))

	_, err = repo.Get(ctx, " ")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestIdempotencyRepository_ConflictAndHashMismatch(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()
	ttl := clock.Now().Add(time.Hour)

	_, err := repo.CreateProcessing(ctx, "k", "hash-a", ttl)
	require.NoError(t, err)

	existing, err := repo.CreateProcessing(ctx, "k", "hash-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, domain.IdempotencyStatusProcessing, existing.Status, "conflict returns the stored record")

	_, err = repo.CreateProcessing(ctx, "k", "hash-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_StoredResponseIsCopied(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()

	_, err := repo.CreateProcessing(ctx, "k", "h", clock.Now().Add(time.Hour))
	require.NoError(t, err)

	body := []byte(`{"id":1}`)
	require.NoError(t, repo.MarkDone(ctx, "k", body, 201))
	body[0] = 'X'

	got, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(got.ResponseBody))
	assert.True(t, got.Replayable())

	require.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 409), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_ExpiryFollowsClock(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()

	_, err := repo.CreateProcessing(ctx, "short", "hash-old", clock.Now().Add(time.Minute))
	require.NoError(t, err)
	_, err = repo.CreateProcessing(ctx, "long", "hash-long", clock.Now().Add(time.Hour))
	require.NoError(t, err)

	clock.Advance(time.Minute)

	_, err = repo.Get(ctx, "short")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound, "ttl == now counts as expired")

	reused, err := repo.CreateProcessing(ctx, "short", "hash-new", time.Time{})
	require.NoError(t, err, "expired key can be taken again")
	assert.Equal(t, "hash-new", reused.RequestHash)
	assert.True(t, reused.TTLAt.Equal(clock.Now().Add(domain.DefaultIdempotencyTTL)))

	clock.Advance(2 * time.Hour)
	removed, err := repo.DeleteExpired(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only the one-hour key has expired")
}

func TestIdempotencyRepository_DeleteExpiredRespectsLimit(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()

	for _, key := range []string{"a", "b", "c"} {
		_, err := repo.CreateProcessing(ctx, key, "h", clock.Now().Add(time.Second))
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(ctx, clock.Now().Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(ctx, clock.Now().Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
