package eventstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/coreagent/runtime/internal/domain"
	"github.com/coreagent/runtime/internal/idgen"
)

func storeBlob(ctx context.Context, q dbtx, content []byte) (*domain.Blob, error) {
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	var existing domain.Blob
	row := q.QueryRowContext(ctx, `SELECT id, hash, length, ref_count FROM blobs WHERE hash = ?`, hash)
	err := row.Scan(&existing.ID, &existing.Hash, &existing.Length, &existing.RefCount)
	if err == nil {
		existing.RefCount++
		if _, err := q.ExecContext(ctx, `UPDATE blobs SET ref_count = ref_count + 1 WHERE id = ?`, existing.ID); err != nil {
			return nil, fmt.Errorf("bump blob refcount: %w", err)
		}
		return &existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("lookup blob: %w", err)
	}

	b := &domain.Blob{
		ID:       idgen.Blob(),
		Hash:     hash,
		Length:   int64(len(content)),
		RefCount: 1,
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO blobs (id, hash, content, length, ref_count) VALUES (?, ?, ?, ?, 1)`,
		b.ID, b.Hash, content, b.Length)
	if err != nil {
		return nil, fmt.Errorf("insert blob: %w", err)
	}
	return b, nil
}

func getBlob(ctx context.Context, q dbtx, id string) (*domain.Blob, error) {
	var b domain.Blob
	row := q.QueryRowContext(ctx, `SELECT id, hash, length, ref_count FROM blobs WHERE id = ?`, id)
	if err := row.Scan(&b.ID, &b.Hash, &b.Length, &b.RefCount); err != nil {
		return nil, err
	}
	return &b, nil
}

func getBlobContent(ctx context.Context, q dbtx, id string) ([]byte, error) {
	var content []byte
	row := q.QueryRowContext(ctx, `SELECT content FROM blobs WHERE id = ?`, id)
	if err := row.Scan(&content); err != nil {
		return nil, err
	}
	return content, nil
}

func getBlobRefCount(ctx context.Context, q dbtx, id string) (int, error) {
	var n int
	row := q.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE id = ?`, id)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// deleteBlobIfUnreferenced removes a blob row once its refcount reaches
// zero; it is a no-op (and returns no error) if the blob still has
// references.
func deleteBlobIfUnreferenced(ctx context.Context, q dbtx, id string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM blobs WHERE id = ? AND ref_count <= 0`, id)
	return err
}

// StoreBlob stores content, content-addressed by its hash. Storing
// identical content again returns the same id and bumps the refcount.
func (s *Store) StoreBlob(ctx context.Context, content []byte) (*domain.Blob, error) {
	var b *domain.Blob
	err := s.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		var err error
		b, err = storeBlob(ctx, tx.tx, content)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBlob returns blob metadata by id.
func (s *Store) GetBlob(ctx context.Context, id string) (*domain.Blob, error) {
	return getBlob(ctx, s.db, id)
}

// GetBlobContent returns a blob's raw bytes.
func (s *Store) GetBlobContent(ctx context.Context, id string) ([]byte, error) {
	return getBlobContent(ctx, s.db, id)
}

// GetBlobRefCount returns a blob's current reference count.
func (s *Store) GetBlobRefCount(ctx context.Context, id string) (int, error) {
	return getBlobRefCount(ctx, s.db, id)
}

// ReleaseBlob decrements a blob's refcount, deleting it once the count
// reaches zero, as the invariant requires.
func (s *Store) ReleaseBlob(ctx context.Context, id string) error {
	return s.Transaction(ctx, func(ctx context.Context, tx *Tx) error {
		if _, err := tx.tx.ExecContext(ctx, `UPDATE blobs SET ref_count = ref_count - 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("decrement blob refcount: %w", err)
		}
		return deleteBlobIfUnreferenced(ctx, tx.tx, id)
	})
}
