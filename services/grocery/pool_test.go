package grocery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"matkollen-backend/lib/browser"
	"matkollen-backend/lib/scrapers/willys"
	"matkollen-backend/lib/telemetry"
)

func setupPool(t *testing.T, capacity int) *Pool {
	cleanup := telemetry.SetupForTesting(t, "test:grocery")
	t.Cleanup(cleanup)

	engine := willys.NewEngine(nil, nil, willys.EngineOptions{})
	pool := NewPool(nil, engine, capacity)
	t.Cleanup(pool.Close)
	return pool
}

func TestPoolEvictsLeastRecentlyUsed(t *testing.T) {
	pool := setupPool(t, 2)

	closed := map[string]bool{}
	mk := func(identity string) *browser.Context {
		return browser.Wrap(nil, func() { closed[identity] = true })
	}

	require.True(t, pool.Adopt("A", mk("A")))
	require.True(t, pool.Adopt("B", mk("B")))
	require.True(t, pool.Adopt("C", mk("C")))

	require.True(t, closed["A"])
	require.False(t, closed["B"])
	require.False(t, closed["C"])
	require.Equal(t, 2, pool.Len())
}

func TestPoolSkipsAnonymousAndInteractive(t *testing.T) {
	pool := setupPool(t, 2)
	ctx := context.Background()
	artifact := &willys.SessionArtifact{}

	require.False(t, pool.Adopt("", browser.Wrap(nil, func() {})))

	sess, err := pool.Acquire(ctx, "", artifact, true)
	require.NoError(t, err)
	require.Nil(t, sess)

	sess, err = pool.Acquire(ctx, "someone", artifact, false)
	require.NoError(t, err)
	require.Nil(t, sess)

	require.Equal(t, 0, pool.Len())
}

func TestAcquireRefreshesRecencyAndNeverDuplicates(t *testing.T) {
	pool := setupPool(t, 2)
	ctx := context.Background()
	artifact := &willys.SessionArtifact{}

	var created []*bool
	pool.newContext = func(ctx context.Context) (*browser.Context, error) {
		closed := new(bool)
		created = append(created, closed)
		return browser.Wrap(nil, func() { *closed = true }), nil
	}

	_, err := pool.Acquire(ctx, "A", artifact, true)
	require.NoError(t, err)
	_, err = pool.Acquire(ctx, "B", artifact, true)
	require.NoError(t, err)

	// hit, refreshes A's recency without a second context
	_, err = pool.Acquire(ctx, "A", artifact, true)
	require.NoError(t, err)
	require.Len(t, created, 2)

	// B is now least recently used and gets evicted
	_, err = pool.Acquire(ctx, "C", artifact, true)
	require.NoError(t, err)
	require.Len(t, created, 3)
	require.False(t, *created[0])
	require.True(t, *created[1])
	require.False(t, *created[2])
}

func TestAdoptReplacesExistingContext(t *testing.T) {
	pool := setupPool(t, 4)

	firstClosed := false
	require.True(t, pool.Adopt("A", browser.Wrap(nil, func() { firstClosed = true })))
	require.True(t, pool.Adopt("A", browser.Wrap(nil, func() {})))

	require.True(t, firstClosed)
	require.Equal(t, 1, pool.Len())
}

func TestDropAndClose(t *testing.T) {
	pool := setupPool(t, 4)

	aClosed := false
	bClosed := false
	pool.Adopt("A", browser.Wrap(nil, func() { aClosed = true }))
	pool.Adopt("B", browser.Wrap(nil, func() { bClosed = true }))

	pool.Drop("A")
	require.True(t, aClosed)
	require.Equal(t, 1, pool.Len())

	pool.Close()
	require.True(t, bClosed)
	require.Equal(t, 0, pool.Len())
}
