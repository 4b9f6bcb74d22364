package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"pitchcraft/internal/types"
)

// Generated message text is stored zstd-compressed. Outreach messages repeat
// heavily across a caller's history, so even the fast level pays for itself.
var (
	artifactEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	artifactDecoder, _ = zstd.NewReader(nil)
)

// compressText compresses artifact text for storage.
func compressText(text string) []byte {
	return artifactEncoder.EncodeAll([]byte(text), nil)
}

// decompressText restores artifact text from its stored form.
func decompressText(blob []byte) (string, error) {
	raw, err := artifactDecoder.DecodeAll(blob, nil)
	if err != nil {
		return "", fmt.Errorf("decompressing artifact text: %w", err)
	}
	return string(raw), nil
}

// ArtifactRepo provides data access for the artifacts table. Artifacts are
// append-only: inserted exactly once per successful generation, never
// updated or deleted.
type ArtifactRepo struct {
	db DBTX
}

// NewArtifactRepo creates a new ArtifactRepo backed by the given database
// connection (pool or transaction).
func NewArtifactRepo(db DBTX) *ArtifactRepo {
	return &ArtifactRepo{db: db}
}

// Insert stores one artifact. Must be called inside the same transaction as
// the usage-counter increment so the two commit together.
func (r *ArtifactRepo) Insert(ctx context.Context, artifact *types.Artifact) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO artifacts
		   (id, account_id, fingerprint, text_zst, score, model, created_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, NULLIF($6, ''), NOW())`,
		artifact.ID,
		artifact.AccountID,
		artifact.Fingerprint,
		compressText(artifact.Text),
		artifact.Score,
		artifact.Model,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert artifact", err)
	}
	return nil
}

// artifactColumns is the standard column set for artifact queries.
const artifactColumns = `id, account_id, fingerprint, text_zst, score, model, created_at`

// scanArtifact scans one artifact row, decompressing the stored text.
func scanArtifact(row pgx.Row) (*types.Artifact, error) {
	var a types.Artifact
	var (
		accountID   *string
		fingerprint *string
		model       *string
		blob        []byte
	)
	err := row.Scan(&a.ID, &accountID, &fingerprint, &blob, &a.Score, &model, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if accountID != nil {
		a.AccountID = *accountID
	}
	if fingerprint != nil {
		a.Fingerprint = *fingerprint
	}
	if model != nil {
		a.Model = *model
	}
	a.Text, err = decompressText(blob)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetByID retrieves one artifact.
func (r *ArtifactRepo) GetByID(ctx context.Context, id string) (*types.Artifact, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`,
		id,
	)
	a, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundArtifact, "artifact not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve artifact", err)
	}
	return a, nil
}

// ListByCaller returns the caller's artifacts, newest first.
func (r *ArtifactRepo) ListByCaller(ctx context.Context, caller types.CallerIdentity, limit, offset int) ([]*types.Artifact, error) {
	var (
		where string
		key   string
	)
	if caller.IsAnonymous() {
		where = "fingerprint = $1"
		key = caller.Fingerprint
	} else {
		where = "account_id = $1"
		key = caller.AccountID
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+artifactColumns+`
		 FROM artifacts
		 WHERE `+where+`
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		key,
		limit,
		offset,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list artifacts", err)
	}
	defer rows.Close()

	var out []*types.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan artifact row", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating artifact rows", err)
	}
	return out, nil
}
