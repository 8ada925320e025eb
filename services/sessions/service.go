// Package sessions persists bankid session artifacts per identity.
// The durable database is the source of truth, a local json file per
// identity doubles as a cache for read misses and a fallback when the
// database is unavailable.
package sessions

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	_ "embed"

	"matkollen-backend/lib/scrapers/willys"
	"matkollen-backend/lib/timezone"
	"matkollen-backend/services/sessions/db"
)

var tracer = otel.Tracer("services/sessions")

//go:embed schema.sql
var Schema string

var ErrNotFound = errors.New("no session artifact for identity")

type Store struct {
	db       *sql.DB
	qry      *db.Queries
	cacheDir string
}

// NewStore wraps an already-opened database. cacheDir may be empty to
// disable the file fallback.
func NewStore(database *sql.DB, cacheDir string) Store {
	return Store{
		db:       database,
		qry:      db.New(database),
		cacheDir: cacheDir,
	}
}

func (s Store) cachePath(identity string) string {
	name := base64.URLEncoding.EncodeToString([]byte(identity))
	return filepath.Join(s.cacheDir, name+".json")
}

// Save upserts the artifact by identity, last write wins. The cache
// file is written best-effort alongside; Save only fails when both
// the database and the file write fail.
func (s Store) Save(ctx context.Context, identity string, artifact *willys.SessionArtifact) error {
	ctx, span := tracer.Start(ctx, "Save")
	defer span.End()

	blob, err := artifact.Encode()
	if err != nil {
		span.RecordError(err)
		return err
	}

	dbErr := s.qry.UpsertSession(ctx, db.UpsertSessionParams{
		Identity:  identity,
		Artifact:  blob,
		UpdatedAt: timezone.Now().Unix(),
	})
	if dbErr != nil {
		span.RecordError(dbErr)
		slog.WarnContext(ctx, "session upsert failed, relying on file cache",
			"identity", identity, "err", dbErr)
	}

	var fileErr error
	if s.cacheDir != "" {
		fileErr = os.MkdirAll(s.cacheDir, 0755)
		if fileErr == nil {
			fileErr = os.WriteFile(s.cachePath(identity), blob, 0600)
		}
		if fileErr != nil {
			slog.WarnContext(ctx, "failed to write session cache file",
				"identity", identity, "err", fileErr)
		}
	}

	if dbErr != nil && (s.cacheDir == "" || fileErr != nil) {
		span.SetStatus(codes.Error, "session save failed")
		return dbErr
	}
	return nil
}

// Load reads the artifact for an identity, database first, cache file
// on miss or database failure. ErrNotFound when neither has it.
func (s Store) Load(ctx context.Context, identity string) (*willys.SessionArtifact, error) {
	ctx, span := tracer.Start(ctx, "Load")
	defer span.End()

	row, err := s.qry.GetSession(ctx, identity)
	if err == nil {
		return willys.DecodeSessionArtifact(row.Artifact)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		span.RecordError(err)
		slog.WarnContext(ctx, "session read failed, trying file cache",
			"identity", identity, "err", err)
	}

	if s.cacheDir != "" {
		blob, fileErr := os.ReadFile(s.cachePath(identity))
		if fileErr == nil {
			return willys.DecodeSessionArtifact(blob)
		}
	}
	return nil, ErrNotFound
}

// Identities lists every identity with a stored session, most
// recently updated first.
func (s Store) Identities(ctx context.Context) ([]string, error) {
	return s.qry.ListIdentities(ctx)
}

// Delete removes a dead session so the sync daemon stops retrying it.
func (s Store) Delete(ctx context.Context, identity string) error {
	err := s.qry.DeleteSession(ctx, identity)
	if err != nil {
		return err
	}
	if s.cacheDir != "" {
		os.Remove(s.cachePath(identity))
	}
	return nil
}
