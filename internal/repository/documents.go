package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/research-ingest/constants"
	"github.com/joseph-ayodele/research-ingest/internal/common"
	"github.com/joseph-ayodele/research-ingest/internal/entity"
)

// NotifyChannel is the Postgres channel row changes are announced on.
const NotifyChannel = "document_changes"

// DocumentRepository is the status store for documents.
//
// Terminal writes (Complete, Fail) are guarded by the attempt number the
// caller started with: a write from an attempt that is no longer current
// returns common.ErrStaleWrite and leaves the row untouched.
type DocumentRepository interface {
	Create(ctx context.Context, nd entity.NewDocument) (*entity.Document, error)
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*entity.Document, error)
	CountByStatus(ctx context.Context, projectID uuid.UUID) (entity.AggregateCounts, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	Complete(ctx context.Context, id uuid.UUID, attempt int, text string, data *entity.ExtractedData) (*entity.Document, error)
	Fail(ctx context.Context, id uuid.UUID, attempt int, kind, message string) (*entity.Document, error)
	ResetForRetry(ctx context.Context, id uuid.UUID, expectedVersion *int64) (*entity.Document, error)
	ReclaimStuck(ctx context.Context, before time.Time, kind, message string) ([]*entity.Document, error)
	Delete(ctx context.Context, id uuid.UUID) (*entity.Document, error)
}

// Option configures the SQL repositories.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type documentRepository struct {
	db     *DB
	now    func() time.Time
	logger *slog.Logger
}

func NewDocumentRepository(db *DB, logger *slog.Logger, opts ...Option) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	o := buildOptions(opts)
	return &documentRepository{db: db, now: o.now, logger: logger}
}

const documentColumns = `id, project_id, file_name, processing_stage, source_kind, source_ref,
	extraction_template, status, extracted_text, extracted_kind, extracted_data, error_kind,
	error_message, processing_attempts, version, uploaded_at, processed_at, updated_at`

func (r *documentRepository) Create(ctx context.Context, nd entity.NewDocument) (*entity.Document, error) {
	tmpl, err := encodeTemplate(nd.Template)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	id := uuid.New()

	q := r.db.rebind(`INSERT INTO documents (id, project_id, file_name, processing_stage, source_kind, source_ref,
		extraction_template, status, processing_attempts, version, uploaded_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 1, ?, ?)
		RETURNING ` + documentColumns)

	var doc *entity.Document
	err = r.db.runTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, q, id, nd.ProjectID, nd.FileName, string(nd.Stage), string(nd.SourceKind),
			nd.SourceRef, tmpl, string(constants.StatusPending), now, now)
		d, err := scanDocument(row)
		if err != nil {
			return err
		}
		doc = d
		return r.notify(ctx, tx, entity.OpInsert, d)
	})
	if err != nil {
		r.logger.Error("failed to create document", "project_id", nd.ProjectID, "file_name", nd.FileName, "error", err)
		return nil, fmt.Errorf("%w: create document: %w", common.ErrDatabase, err)
	}
	r.logger.Debug("document created", "document_id", doc.ID, "project_id", doc.ProjectID, "stage", doc.Stage)
	return doc, nil
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	q := r.db.rebind(`SELECT ` + documentColumns + ` FROM documents WHERE id = ?`)
	doc, err := scanDocument(r.db.SQL.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		r.logger.Error("failed to get document", "document_id", id, "error", err)
		return nil, fmt.Errorf("%w: get document: %w", common.ErrDatabase, err)
	}
	return doc, nil
}

func (r *documentRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*entity.Document, error) {
	q := r.db.rebind(`SELECT ` + documentColumns + ` FROM documents WHERE project_id = ? ORDER BY uploaded_at, id`)
	rows, err := r.db.SQL.QueryContext(ctx, q, projectID)
	if err != nil {
		r.logger.Error("failed to list documents", "project_id", projectID, "error", err)
		return nil, fmt.Errorf("%w: list documents: %w", common.ErrDatabase, err)
	}
	defer rows.Close()

	var out []*entity.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan document: %w", common.ErrDatabase, err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list documents: %w", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *documentRepository) CountByStatus(ctx context.Context, projectID uuid.UUID) (entity.AggregateCounts, error) {
	var counts entity.AggregateCounts
	q := r.db.rebind(`SELECT status, COUNT(*) FROM documents WHERE project_id = ? GROUP BY status`)
	rows, err := r.db.SQL.QueryContext(ctx, q, projectID)
	if err != nil {
		return counts, fmt.Errorf("%w: count documents: %w", common.ErrDatabase, err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return counts, fmt.Errorf("%w: scan counts: %w", common.ErrDatabase, err)
		}
		counts.Add(constants.DocumentStatus(status), n)
	}
	return counts, rows.Err()
}

func (r *documentRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	now := r.now().UTC()
	q := `UPDATE documents
		SET status = ?, processing_attempts = processing_attempts + 1, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?
		RETURNING ` + documentColumns
	doc, err := r.updateOne(ctx, id, q, string(constants.StatusProcessing), now, id, string(constants.StatusPending))
	if err != nil {
		return nil, r.guardMiss(ctx, id, err, common.ErrStaleWrite, "mark processing")
	}
	return doc, nil
}

func (r *documentRepository) Complete(ctx context.Context, id uuid.UUID, attempt int, text string, data *entity.ExtractedData) (*entity.Document, error) {
	if strings.TrimSpace(text) == "" {
		return nil, common.NewAppError(common.KindExtraction, "completed documents need extracted text", common.ErrInvalidInput)
	}
	var kind, payload sql.NullString
	if data != nil {
		obj, err := data.ObjectJSON()
		if err != nil {
			return nil, err
		}
		kind = sql.NullString{String: string(data.Kind), Valid: true}
		payload = sql.NullString{String: obj, Valid: true}
	}
	now := r.now().UTC()
	q := `UPDATE documents
		SET status = ?, extracted_text = ?,
			extracted_kind = CASE WHEN processing_stage = 'text_extraction' THEN NULL ELSE CAST(? AS TEXT) END,
			extracted_data = CASE WHEN processing_stage = 'text_extraction' THEN NULL ELSE CAST(? AS TEXT) END,
			error_kind = NULL, error_message = NULL,
			processed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND processing_attempts = ?
		RETURNING ` + documentColumns
	doc, err := r.updateOne(ctx, id, q, string(constants.StatusCompleted), text, kind, payload, now, now,
		id, string(constants.StatusProcessing), attempt)
	if err != nil {
		return nil, r.guardMiss(ctx, id, err, common.ErrStaleWrite, "complete")
	}
	return doc, nil
}

func (r *documentRepository) Fail(ctx context.Context, id uuid.UUID, attempt int, kind, message string) (*entity.Document, error) {
	if strings.TrimSpace(message) == "" {
		message = "unknown error"
	}
	if kind == "" {
		kind = common.KindInternal
	}
	now := r.now().UTC()
	q := `UPDATE documents
		SET status = ?, error_kind = ?, error_message = ?, extracted_text = NULL,
			extracted_kind = NULL, extracted_data = NULL,
			processed_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND status = ? AND processing_attempts = ?
		RETURNING ` + documentColumns
	doc, err := r.updateOne(ctx, id, q, string(constants.StatusError), kind, message, now, now,
		id, string(constants.StatusProcessing), attempt)
	if err != nil {
		return nil, r.guardMiss(ctx, id, err, common.ErrStaleWrite, "fail")
	}
	return doc, nil
}

func (r *documentRepository) ResetForRetry(ctx context.Context, id uuid.UUID, expectedVersion *int64) (*entity.Document, error) {
	now := r.now().UTC()
	q := `UPDATE documents
		SET status = ?, error_kind = NULL, error_message = NULL, processed_at = NULL,
			processing_attempts = processing_attempts + 1, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?`
	args := []any{string(constants.StatusProcessing), now, id, string(constants.StatusError)}
	if expectedVersion != nil {
		q += ` AND version = ?`
		args = append(args, *expectedVersion)
	}
	q += ` RETURNING ` + documentColumns

	doc, err := r.updateOne(ctx, id, q, args...)
	if err != nil {
		return nil, r.guardMiss(ctx, id, err, common.ErrConflict, "reset for retry")
	}
	return doc, nil
}

func (r *documentRepository) ReclaimStuck(ctx context.Context, before time.Time, kind, message string) ([]*entity.Document, error) {
	now := r.now().UTC()
	q := r.db.rebind(`UPDATE documents
		SET status = ?, error_kind = ?, error_message = ?, processed_at = ?, updated_at = ?, version = version + 1
		WHERE status IN (?, ?) AND updated_at < ?
		RETURNING ` + documentColumns)

	var out []*entity.Document
	err := r.db.runTx(ctx, func(tx *sql.Tx) error {
		out = out[:0]
		rows, err := tx.QueryContext(ctx, q, string(constants.StatusError), kind, message, now, now,
			string(constants.StatusPending), string(constants.StatusProcessing), before.UTC())
		if err != nil {
			return err
		}
		for rows.Next() {
			d, err := scanDocument(rows)
			if err != nil {
				_ = rows.Close()
				return err
			}
			out = append(out, d)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for _, d := range out {
			if err := r.notify(ctx, tx, entity.OpUpdate, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to reclaim stuck documents", "error", err)
		return nil, fmt.Errorf("%w: reclaim: %w", common.ErrDatabase, err)
	}
	return out, nil
}

func (r *documentRepository) Delete(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	q := r.db.rebind(`DELETE FROM documents WHERE id = ? RETURNING ` + documentColumns)
	var doc *entity.Document
	err := r.db.runTx(ctx, func(tx *sql.Tx) error {
		d, err := scanDocument(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			return err
		}
		doc = d
		return r.notify(ctx, tx, entity.OpDelete, d)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: delete document: %w", common.ErrDatabase, err)
	}
	return doc, nil
}

// updateOne runs a single-row UPDATE ... RETURNING and announces the change.
func (r *documentRepository) updateOne(ctx context.Context, id uuid.UUID, query string, args ...any) (*entity.Document, error) {
	q := r.db.rebind(query)
	var doc *entity.Document
	err := r.db.runTx(ctx, func(tx *sql.Tx) error {
		d, err := scanDocument(tx.QueryRowContext(ctx, q, args...))
		if err != nil {
			return err
		}
		doc = d
		return r.notify(ctx, tx, entity.OpUpdate, d)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("document updated", "document_id", id, "status", doc.Status, "version", doc.Version)
	return doc, nil
}

// guardMiss turns "no row matched" into ErrNotFound or the given guard error.
func (r *documentRepository) guardMiss(ctx context.Context, id uuid.UUID, err error, guard error, op string) error {
	if !errors.Is(err, sql.ErrNoRows) {
		r.logger.Error("document update failed", "document_id", id, "op", op, "error", err)
		return fmt.Errorf("%w: %s: %w", common.ErrDatabase, op, err)
	}
	cur, gerr := r.GetByID(ctx, id)
	if gerr != nil {
		return gerr
	}
	return fmt.Errorf("%s document %s (status %s, attempts %d, version %d): %w",
		op, id, cur.Status, cur.ProcessingAttempts, cur.Version, guard)
}

type changeNotice struct {
	Op         entity.ChangeOp `json:"op"`
	ProjectID  uuid.UUID       `json:"project_id"`
	DocumentID uuid.UUID       `json:"document_id"`
	Version    int64           `json:"version"`
}

// notify announces a committed change on Postgres. The payload carries ids only
// (NOTIFY payloads are capped); listeners reload the row.
func (r *documentRepository) notify(ctx context.Context, tx *sql.Tx, op entity.ChangeOp, d *entity.Document) error {
	if r.db.Dialect != Postgres {
		return nil
	}
	b, err := json.Marshal(changeNotice{Op: op, ProjectID: d.ProjectID, DocumentID: d.ID, Version: d.Version})
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(b))
	return err
}

// DecodeChangeNotice parses a payload produced on NotifyChannel.
func DecodeChangeNotice(payload string) (op entity.ChangeOp, projectID, documentID uuid.UUID, err error) {
	var n changeNotice
	if err = json.Unmarshal([]byte(payload), &n); err != nil {
		return "", uuid.Nil, uuid.Nil, fmt.Errorf("decode change notice: %w", err)
	}
	return n.Op, n.ProjectID, n.DocumentID, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(s rowScanner) (*entity.Document, error) {
	var d entity.Document
	var stage, sourceKind, status string
	var tmpl, text, dataKind, data, errKind, errMsg sql.NullString
	var processedAt sql.NullTime
	err := s.Scan(&d.ID, &d.ProjectID, &d.FileName, &stage, &sourceKind, &d.SourceRef,
		&tmpl, &status, &text, &dataKind, &data, &errKind,
		&errMsg, &d.ProcessingAttempts, &d.Version, &d.UploadedAt, &processedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Stage = constants.ProcessingStage(stage)
	d.SourceKind = constants.SourceKind(sourceKind)
	d.Status = constants.DocumentStatus(status)
	d.UploadedAt = d.UploadedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()

	if tmpl.Valid && tmpl.String != "" {
		if err := json.Unmarshal([]byte(tmpl.String), &d.Template); err != nil {
			return nil, fmt.Errorf("decode template: %w", err)
		}
	}
	if text.Valid {
		d.ExtractedText = &text.String
	}
	if dataKind.Valid && data.Valid {
		ed, err := entity.ExtractedDataFromObject(entity.DataKind(dataKind.String), []byte(data.String))
		if err != nil {
			return nil, err
		}
		d.ExtractedData = ed
	}
	if errKind.Valid {
		d.ErrorKind = &errKind.String
	}
	if errMsg.Valid {
		d.ErrorMessage = &errMsg.String
	}
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		d.ProcessedAt = &t
	}
	return &d, nil
}

func encodeTemplate(t entity.Template) (sql.NullString, error) {
	if len(t) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode template: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
