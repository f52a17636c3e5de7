package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/recall/recalld/internal/apperr"
	"github.com/recall/recalld/internal/model"
)

// UpsertDocumentParams carries the fields needed to insert or update a
// document row.
type UpsertDocumentParams struct {
	Filepath     string
	Type         model.DocumentType
	Title        string
	ContentHash  string
	URL          string
	Summary      string
	Tags         []string
	Metadata     map[string]any
	Namespace    string
	QualityScore int
	CapturedAt   time.Time
}

// UpsertDocument inserts or updates the document row at filepath: a
// no-op if the active document there has a matching content hash, an
// in-place replace if the hash differs, or a fresh insert otherwise.
// changed reports whether the row's content hash is new or different, so
// the Ingestor knows whether chunks must be rebuilt.
func (s *Store) UpsertDocument(ctx context.Context, p UpsertDocumentParams) (id uuid.UUID, wasNew, changed bool, err error) {
	err = s.withRetry(ctx, "upsert_document", func(ctx context.Context) error {
		tx, txErr := s.pool.Begin(ctx)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback(ctx)

		var existingID uuid.UUID
		var existingHash string
		lookupErr := tx.QueryRow(ctx,
			`SELECT id, content_hash FROM content WHERE filepath = $1 AND deleted_at IS NULL`,
			p.Filepath,
		).Scan(&existingID, &existingHash)

		switch {
		case errors.Is(lookupErr, pgx.ErrNoRows):
			newID := uuid.New()
			metadataJSON, mErr := json.Marshal(p.Metadata)
			if mErr != nil {
				return mErr
			}
			now := time.Now().UTC()
			captured := p.CapturedAt
			if captured.IsZero() {
				captured = now
			}
			_, insErr := tx.Exec(ctx, `
				INSERT INTO content (id, filepath, content_hash, type, url, title, summary, tags, metadata, namespace, quality_score, created_at, updated_at, captured_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12,$13)`,
				newID, p.Filepath, p.ContentHash, string(p.Type), p.URL, p.Title, p.Summary, p.Tags, metadataJSON, p.Namespace, p.QualityScore, now, captured,
			)
			if insErr != nil {
				if isUniqueViolation(insErr) {
					// Lost a concurrent insert race on the filepath
					// partial unique index. The transaction is aborted,
					// so the winner's id is read through the pool.
					contentID := ""
					var winnerID uuid.UUID
					if s.pool.QueryRow(ctx,
						`SELECT id FROM content WHERE filepath = $1 AND deleted_at IS NULL`,
						p.Filepath,
					).Scan(&winnerID) == nil {
						contentID = winnerID.String()
					}
					return apperr.Duplicate(contentID)
				}
				return insErr
			}
			id, wasNew, changed = newID, true, true
			return tx.Commit(ctx)

		case lookupErr != nil:
			return lookupErr

		case existingHash == p.ContentHash:
			id, wasNew, changed = existingID, false, false
			return tx.Commit(ctx)

		default:
			metadataJSON, mErr := json.Marshal(p.Metadata)
			if mErr != nil {
				return mErr
			}
			_, updErr := tx.Exec(ctx, `
				UPDATE content SET content_hash=$2, type=$3, url=$4, title=$5, summary=$6, tags=$7, metadata=$8, namespace=$9, quality_score=$10, updated_at=now()
				WHERE id=$1`,
				existingID, p.ContentHash, string(p.Type), p.URL, p.Title, p.Summary, p.Tags, metadataJSON, p.Namespace, p.QualityScore,
			)
			if updErr != nil {
				return updErr
			}
			id, wasNew, changed = existingID, false, true
			return tx.Commit(ctx)
		}
	})
	return id, wasNew, changed, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetDocument fetches a single document by id, including soft-deleted
// rows (callers that need the deleted_at filter apply it themselves,
// e.g. search paths use ListDocuments/lexical/vector search instead).
func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (model.Document, error) {
	var doc model.Document
	err := s.withRetry(ctx, "get_document", func(ctx context.Context) error {
		row := s.pool.QueryRow(ctx, `
			SELECT id, filepath, content_hash, type, url, title, summary, auto_tags, tags, metadata, namespace, quality_score, created_at, updated_at, captured_at, deleted_at
			FROM content WHERE id = $1`, id)
		d, scanErr := scanDocument(row)
		if scanErr != nil {
			return scanErr
		}
		doc = d
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, apperr.NotFound(fmt.Sprintf("document %s not found", id))
	}
	return doc, err
}

// ListFilter narrows ListDocuments results.
type ListFilter struct {
	Type      model.DocumentType
	Namespace string
	Tag       string
}

// orderings whitelists the sort keys ListDocuments accepts; anything else
// falls back to newest-first.
var orderings = map[string]string{
	"created_at":  "created_at DESC",
	"updated_at":  "updated_at DESC",
	"captured_at": "captured_at DESC",
	"title":       "title ASC",
}

// ListDocuments returns documents matching filter, paginated and ordered.
func (s *Store) ListDocuments(ctx context.Context, filter ListFilter, limit, offset int, orderBy string) ([]model.Document, error) {
	order, ok := orderings[orderBy]
	if !ok {
		order = "created_at DESC"
	}
	orderBy = order
	query := `
		SELECT id, filepath, content_hash, type, url, title, summary, auto_tags, tags, metadata, namespace, quality_score, created_at, updated_at, captured_at, deleted_at
		FROM content WHERE deleted_at IS NULL`
	args := []any{}
	argN := 1
	if filter.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, string(filter.Type))
		argN++
	}
	if filter.Namespace != "" {
		query += fmt.Sprintf(" AND namespace LIKE $%d", argN)
		args = append(args, filter.Namespace+"%")
		argN++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argN)
		args = append(args, filter.Tag)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", orderBy, argN, argN+1)
	args = append(args, limit, offset)

	var docs []model.Document
	err := s.withRetry(ctx, "list_documents", func(ctx context.Context) error {
		rows, qErr := s.pool.Query(ctx, query, args...)
		if qErr != nil {
			return qErr
		}
		defer rows.Close()
		docs = nil
		for rows.Next() {
			d, sErr := scanDocument(rows)
			if sErr != nil {
				return sErr
			}
			docs = append(docs, d)
		}
		return rows.Err()
	})
	return docs, err
}

// SoftDelete marks a document deleted so it becomes invisible to search
// and Q&A while its rows (and its chunks') remain.
func (s *Store) SoftDelete(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, "soft_delete", func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `UPDATE content SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return apperr.NotFound(fmt.Sprintf("document %s not found", id))
		}
		return nil
	})
}

// HardDelete removes a document and, via ON DELETE CASCADE, exactly its
// chunks.
func (s *Store) HardDelete(ctx context.Context, id uuid.UUID) error {
	return s.withRetry(ctx, "hard_delete", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `DELETE FROM content WHERE id = $1`, id)
		return err
	})
}

// UpdateAutoTags augments auto_tags and optionally the summary on a
// document; used by the auto-tagger.
func (s *Store) UpdateAutoTags(ctx context.Context, id uuid.UUID, autoTags []string, summary string) error {
	return s.withRetry(ctx, "update_auto_tags", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			UPDATE content SET auto_tags = $2, summary = CASE WHEN summary = '' THEN $3 ELSE summary END, updated_at = now()
			WHERE id = $1`, id, autoTags, summary)
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (model.Document, error) {
	var d model.Document
	var typ string
	var metadataJSON []byte
	var deletedAt *time.Time
	err := row.Scan(
		&d.ID, &d.Filepath, &d.ContentHash, &typ, &d.URL, &d.Title, &d.Summary,
		&d.AutoTags, &d.Tags, &metadataJSON, &d.Namespace, &d.QualityScore,
		&d.CreatedAt, &d.UpdatedAt, &d.CapturedAt, &deletedAt,
	)
	if err != nil {
		return model.Document{}, err
	}
	d.Type = model.DocumentType(typ)
	d.DeletedAt = deletedAt
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &d.Metadata)
	}
	return d, nil
}
