package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/mazen160/go-random"
	"github.com/stretchr/testify/require"

	"matkollen-backend/lib/scrapers/willys"
	"matkollen-backend/lib/sqliteutil"
	"matkollen-backend/lib/telemetry"
)

func setup(t *testing.T) Store {
	cleanup := telemetry.SetupForTesting(t, "test:sessions")
	t.Cleanup(cleanup)

	database, err := sqliteutil.OpenDB(Schema, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewStore(database, t.TempDir())
}

func testArtifact() *willys.SessionArtifact {
	return &willys.SessionArtifact{
		Cookies: []*proto.NetworkCookieParam{
			{Name: "JSESSIONID", Value: "abc123", Domain: "www.willys.se", Path: "/"},
		},
		LocalStorage: map[string]string{"consent": "accepted"},
		UpdatedAt:    time.Now(),
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	identity, err := random.String(12)
	require.NoError(t, err)

	require.NoError(t, store.Save(ctx, identity, testArtifact()))

	loaded, err := store.Load(ctx, identity)
	require.NoError(t, err)
	require.Len(t, loaded.Cookies, 1)
	require.Equal(t, "JSESSIONID", loaded.Cookies[0].Name)
	require.Equal(t, "abc123", loaded.Cookies[0].Value)
	require.Equal(t, "accepted", loaded.LocalStorage["consent"])
}

func TestLoadMissingIdentity(t *testing.T) {
	store := setup(t)

	_, err := store.Load(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertLastWriteWins(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	first := testArtifact()
	require.NoError(t, store.Save(ctx, "identity-1", first))

	second := testArtifact()
	second.Cookies[0].Value = "xyz789"
	require.NoError(t, store.Save(ctx, "identity-1", second))

	loaded, err := store.Load(ctx, "identity-1")
	require.NoError(t, err)
	require.Equal(t, "xyz789", loaded.Cookies[0].Value)

	identities, err := store.Identities(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"identity-1"}, identities)
}

func TestFileFallbackWhenDatabaseGone(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:sessions")
	t.Cleanup(cleanup)

	database, err := sqliteutil.OpenDB(Schema, ":memory:")
	require.NoError(t, err)
	store := NewStore(database, t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "identity-1", testArtifact()))

	// kill the durable store, the cache file must still serve reads
	// and absorb writes
	require.NoError(t, database.Close())

	loaded, err := store.Load(ctx, "identity-1")
	require.NoError(t, err)
	require.Equal(t, "abc123", loaded.Cookies[0].Value)

	updated := testArtifact()
	updated.Cookies[0].Value = "after-outage"
	require.NoError(t, store.Save(ctx, "identity-1", updated))

	loaded, err = store.Load(ctx, "identity-1")
	require.NoError(t, err)
	require.Equal(t, "after-outage", loaded.Cookies[0].Value)
}

func TestDelete(t *testing.T) {
	store := setup(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "identity-1", testArtifact()))
	require.NoError(t, store.Delete(ctx, "identity-1"))

	_, err := store.Load(ctx, "identity-1")
	require.ErrorIs(t, err, ErrNotFound)
}

var _ willys.ArtifactStore = Store{}
