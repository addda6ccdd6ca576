package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/tunefile/apiserver/types"
)

const fileColumns = `id, owner_id, status, COALESCE(assigned_expert_id, 0), vehicle, options, total_credits, original_name, original_key, modified_key, created_at, updated_at`

// EcuFileRepository handles persistence for ECU file workflow instances,
// their status history and their discussion comments.
type EcuFileRepository struct {
	db *sql.DB
}

func NewEcuFileRepository(db *sql.DB) *EcuFileRepository {
	return &EcuFileRepository{db: db}
}

func scanFile(row interface{ Scan(...any) error }) (types.EcuFile, error) {
	var (
		file        types.EcuFile
		vehicleJSON []byte
		optionsJSON []byte
	)
	err := row.Scan(
		&file.ID,
		&file.OwnerID,
		&file.Status,
		&file.AssignedExpertID,
		&vehicleJSON,
		&optionsJSON,
		&file.TotalCredits,
		&file.OriginalName,
		&file.OriginalKey,
		&file.ModifiedKey,
		&file.CreatedAt,
		&file.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.EcuFile{}, ErrNotFound
		}
		return types.EcuFile{}, err
	}
	if err := json.Unmarshal(vehicleJSON, &file.Vehicle); err != nil {
		return types.EcuFile{}, err
	}
	if err := json.Unmarshal(optionsJSON, &file.Options); err != nil {
		return types.EcuFile{}, err
	}
	file.HasModified = file.ModifiedKey != ""
	return file, nil
}

// CreateSubmission inserts a new workflow instance together with its credit
// debit and its initial status history entry, all in one database
// transaction. Either everything is committed or nothing is.
func (r *EcuFileRepository) CreateSubmission(ctx context.Context, file types.EcuFile) (types.EcuFile, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.EcuFile{}, err
	}
	defer tx.Rollback()

	now := time.Now()
	file.Status = types.StatusPending
	file.CreatedAt = now
	file.UpdatedAt = now

	vehicleJSON, err := json.Marshal(file.Vehicle)
	if err != nil {
		return types.EcuFile{}, err
	}
	optionsJSON, err := json.Marshal(file.Options)
	if err != nil {
		return types.EcuFile{}, err
	}

	const insertQuery = `
		INSERT INTO ecu_files (owner_id, status, vehicle, options, total_credits, original_name, original_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		insertQuery,
		file.OwnerID,
		file.Status,
		vehicleJSON,
		optionsJSON,
		file.TotalCredits,
		file.OriginalName,
		file.OriginalKey,
		file.CreatedAt,
		file.UpdatedAt,
	).Scan(&file.ID); err != nil {
		return types.EcuFile{}, err
	}

	if _, err := applyDelta(ctx, tx, file.OwnerID, -file.TotalCredits, types.TxUsage, "file submission "+file.OriginalName, file.ID); err != nil {
		return types.EcuFile{}, err
	}

	entry, err := insertHistory(ctx, tx, types.StatusEntry{
		FileID:  file.ID,
		To:      types.StatusPending,
		ActorID: file.OwnerID,
	})
	if err != nil {
		return types.EcuFile{}, err
	}
	file.StatusHistory = []types.StatusEntry{entry}

	if err := tx.Commit(); err != nil {
		return types.EcuFile{}, err
	}
	return file, nil
}

// Get returns a workflow instance with its status history and comments.
func (r *EcuFileRepository) Get(ctx context.Context, id int) (types.EcuFile, error) {
	const query = `SELECT ` + fileColumns + ` FROM ecu_files WHERE id = $1`
	file, err := scanFile(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return types.EcuFile{}, err
	}

	if file.StatusHistory, err = r.history(ctx, id); err != nil {
		return types.EcuFile{}, err
	}
	if file.Comments, err = r.comments(ctx, id); err != nil {
		return types.EcuFile{}, err
	}
	return file, nil
}

func (r *EcuFileRepository) history(ctx context.Context, fileID int) ([]types.StatusEntry, error) {
	const query = `
		SELECT id, file_id, from_status, to_status, actor_id, comment, created_at
		FROM status_history
		WHERE file_id = $1
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.StatusEntry
	for rows.Next() {
		var entry types.StatusEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.FileID,
			&entry.From,
			&entry.To,
			&entry.ActorID,
			&entry.Comment,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *EcuFileRepository) comments(ctx context.Context, fileID int) ([]types.Comment, error) {
	const query = `
		SELECT id, file_id, author_id, text, image_key, created_at
		FROM file_comments
		WHERE file_id = $1
		ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, fileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []types.Comment
	for rows.Next() {
		var comment types.Comment
		if err := rows.Scan(
			&comment.ID,
			&comment.FileID,
			&comment.AuthorID,
			&comment.Text,
			&comment.ImageKey,
			&comment.CreatedAt,
		); err != nil {
			return nil, err
		}
		comment.HasImage = comment.ImageKey != ""
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// List returns workflow instances matching the filter, newest first.
// Zero filter values mean "any".
type FileFilter struct {
	OwnerID  int
	ExpertID int
	Status   types.FileStatus
}

func (r *EcuFileRepository) List(ctx context.Context, filter FileFilter, offset, limit int) ([]types.EcuFile, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit < 1 {
		limit = 20
	}

	const baseWhere = `
		WHERE ($1 = 0 OR owner_id = $1)
		  AND ($2 = 0 OR assigned_expert_id = $2)
		  AND ($3 = '' OR status = $3)`

	var total int
	if err := r.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM ecu_files`+baseWhere,
		filter.OwnerID, filter.ExpertID, string(filter.Status),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+fileColumns+` FROM ecu_files`+baseWhere+` ORDER BY id DESC OFFSET $4 LIMIT $5`,
		filter.OwnerID, filter.ExpertID, string(filter.Status), offset, limit,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	files := make([]types.EcuFile, 0, limit)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, 0, err
		}
		files = append(files, file)
	}
	return files, total, rows.Err()
}

// UpdateStatus moves a file from an expected state to a new one and
// appends the audit entry in one transaction. The row is locked and its
// status compared against from, so a transition validated on a stale read
// cannot commit; callers get ErrConflict instead.
func (r *EcuFileRepository) UpdateStatus(ctx context.Context, fileID int, from, to types.FileStatus, actorID int, comment string) (types.StatusEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.StatusEntry{}, err
	}
	defer tx.Rollback()

	var current types.FileStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM ecu_files WHERE id = $1 FOR UPDATE`, fileID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.StatusEntry{}, ErrNotFound
	}
	if err != nil {
		return types.StatusEntry{}, err
	}
	if current != from {
		return types.StatusEntry{}, ErrConflict
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE ecu_files SET status = $1, updated_at = $2 WHERE id = $3`,
		to, time.Now(), fileID,
	); err != nil {
		return types.StatusEntry{}, err
	}

	entry, err := insertHistory(ctx, tx, types.StatusEntry{
		FileID:  fileID,
		From:    from,
		To:      to,
		ActorID: actorID,
		Comment: comment,
	})
	if err != nil {
		return types.StatusEntry{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.StatusEntry{}, err
	}
	return entry, nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, entry types.StatusEntry) (types.StatusEntry, error) {
	entry.CreatedAt = time.Now()
	const query = `
		INSERT INTO status_history (file_id, from_status, to_status, actor_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := tx.QueryRowContext(
		ctx,
		query,
		entry.FileID,
		entry.From,
		entry.To,
		entry.ActorID,
		entry.Comment,
		entry.CreatedAt,
	).Scan(&entry.ID); err != nil {
		return types.StatusEntry{}, err
	}
	return entry, nil
}

// SetModifiedKey records the object-storage key of the processed binary.
func (r *EcuFileRepository) SetModifiedKey(ctx context.Context, fileID int, key string) error {
	result, err := r.db.ExecContext(
		ctx,
		`UPDATE ecu_files SET modified_key = $1, updated_at = $2 WHERE id = $3`,
		key, time.Now(), fileID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Assign sets the assigned expert and appends a history entry recording
// the assignment, in one transaction.
func (r *EcuFileRepository) Assign(ctx context.Context, fileID, expertID, actorID int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var status types.FileStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM ecu_files WHERE id = $1 FOR UPDATE`, fileID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE ecu_files SET assigned_expert_id = $1, updated_at = $2 WHERE id = $3`,
		expertID, time.Now(), fileID,
	); err != nil {
		return err
	}

	if _, err := insertHistory(ctx, tx, types.StatusEntry{
		FileID:  fileID,
		From:    status,
		To:      status,
		ActorID: actorID,
		Comment: "expert assigned",
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// AddComment appends a comment to a file's discussion thread.
func (r *EcuFileRepository) AddComment(ctx context.Context, comment types.Comment) (types.Comment, error) {
	comment.CreatedAt = time.Now()
	const query = `
		INSERT INTO file_comments (file_id, author_id, text, image_key, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		comment.FileID,
		comment.AuthorID,
		comment.Text,
		comment.ImageKey,
		comment.CreatedAt,
	).Scan(&comment.ID); err != nil {
		return types.Comment{}, err
	}
	comment.HasImage = comment.ImageKey != ""
	return comment, nil
}

// GetComment returns a single comment by ID.
func (r *EcuFileRepository) GetComment(ctx context.Context, id int) (types.Comment, error) {
	const query = `
		SELECT id, file_id, author_id, text, image_key, created_at
		FROM file_comments
		WHERE id = $1`
	var comment types.Comment
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&comment.ID,
		&comment.FileID,
		&comment.AuthorID,
		&comment.Text,
		&comment.ImageKey,
		&comment.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Comment{}, ErrNotFound
	}
	if err != nil {
		return types.Comment{}, err
	}
	comment.HasImage = comment.ImageKey != ""
	return comment, nil
}
