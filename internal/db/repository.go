// Package db provides CRUD repository operations for Geomark data models.
package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/geomarkapp/geomark/internal/models"
	"github.com/geomarkapp/geomark/internal/uuid"
)

// metaLastSyncAt is the meta key recording the last successful sync time.
const metaLastSyncAt = "last_sync_at"

// Repository provides CRUD operations for all models.
// Statements are prepared on first use and cached for reuse.
type Repository struct {
	db *sql.DB

	stmtCache sync.Map // map[string]*sql.Stmt
}

// NewRepository creates a new Repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// PrepareStmt gets or creates a prepared statement from cache.
// Key is the query string, value is the prepared statement.
func (r *Repository) PrepareStmt(query string) (*sql.Stmt, error) {
	if stmt, ok := r.stmtCache.Load(query); ok {
		return stmt.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	actual, loaded := r.stmtCache.LoadOrStore(query, stmt)
	if loaded {
		// Another goroutine already prepared this, close our duplicate
		stmt.Close()
		return actual.(*sql.Stmt), nil
	}

	return stmt, nil
}

// Close closes all cached prepared statements.
func (r *Repository) Close() error {
	var firstErr error
	r.stmtCache.Range(func(key, value interface{}) bool {
		stmt := value.(*sql.Stmt)
		if err := stmt.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		return true
	})
	return firstErr
}

// =====================================================
// Landmark Operations
// =====================================================

// CreateLandmark inserts a new landmark row. A LocalID is assigned when the
// caller did not provide one.
func (r *Repository) CreateLandmark(l *models.Landmark) error {
	now := time.Now().Unix()
	if l.LocalID == "" {
		l.LocalID = models.UUID(uuid.New())
	}
	if l.CreatedAt == 0 {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.SyncState == "" {
		l.SyncState = models.SyncStateClean
	}

	query := `
	INSERT INTO landmarks (local_id, server_id, title, latitude, longitude,
		image_url, image_path, sync_state, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, l.LocalID, l.ServerID, l.Title, l.Latitude,
		l.Longitude, l.ImageURL, l.ImagePath, l.SyncState, l.CreatedAt, l.UpdatedAt)
	return err
}

// GetLandmark retrieves a landmark by its local id.
func (r *Repository) GetLandmark(localID string) (*models.Landmark, error) {
	query := `
	SELECT local_id, server_id, title, latitude, longitude, image_url,
		   image_path, sync_state, created_at, updated_at
	FROM landmarks WHERE local_id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanLandmark(stmt.QueryRow(localID))
}

// GetLandmarkByServerID retrieves a landmark by its server-assigned id.
func (r *Repository) GetLandmarkByServerID(serverID int64) (*models.Landmark, error) {
	query := `
	SELECT local_id, server_id, title, latitude, longitude, image_url,
		   image_path, sync_state, created_at, updated_at
	FROM landmarks WHERE server_id = ?
	`
	stmt, err := r.PrepareStmt(query)
	if err != nil {
		return nil, err
	}
	return scanLandmark(stmt.QueryRow(serverID))
}

// ListLandmarks returns all landmarks, newest first.
func (r *Repository) ListLandmarks() ([]*models.Landmark, error) {
	query := `
	SELECT local_id, server_id, title, latitude, longitude, image_url,
		   image_path, sync_state, created_at, updated_at
	FROM landmarks ORDER BY created_at DESC, local_id
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var landmarks []*models.Landmark
	for rows.Next() {
		l, err := scanLandmark(rows)
		if err != nil {
			return nil, err
		}
		landmarks = append(landmarks, l)
	}
	return landmarks, rows.Err()
}

// UpdateLandmark overwrites the mutable fields of a landmark row.
func (r *Repository) UpdateLandmark(l *models.Landmark) error {
	l.UpdatedAt = time.Now().Unix()

	query := `
	UPDATE landmarks
	SET server_id = ?, title = ?, latitude = ?, longitude = ?, image_url = ?,
		image_path = ?, sync_state = ?, updated_at = ?
	WHERE local_id = ?
	`
	res, err := r.db.Exec(query, l.ServerID, l.Title, l.Latitude, l.Longitude,
		l.ImageURL, l.ImagePath, l.SyncState, l.UpdatedAt, l.LocalID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeleteLandmark removes a landmark row.
func (r *Repository) DeleteLandmark(localID string) error {
	res, err := r.db.Exec("DELETE FROM landmarks WHERE local_id = ?", localID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// RebindServerID records the server-assigned id for a locally created
// landmark after its create action succeeds.
func (r *Repository) RebindServerID(localID string, serverID int64) error {
	res, err := r.db.Exec(
		"UPDATE landmarks SET server_id = ?, updated_at = ? WHERE local_id = ?",
		serverID, time.Now().Unix(), localID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetSyncState updates the derived sync state of a landmark.
func (r *Repository) SetSyncState(localID string, state models.SyncState) error {
	res, err := r.db.Exec(
		"UPDATE landmarks SET sync_state = ?, updated_at = ? WHERE local_id = ?",
		state, time.Now().Unix(), localID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// scanner abstracts sql.Row and sql.Rows for single-row scans.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanLandmark(s scanner) (*models.Landmark, error) {
	var l models.Landmark
	err := s.Scan(&l.LocalID, &l.ServerID, &l.Title, &l.Latitude, &l.Longitude,
		&l.ImageURL, &l.ImagePath, &l.SyncState, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// =====================================================
// PendingAction Operations
// =====================================================

// InsertPendingAction persists a queued action. The queue layer requires the
// row to be durable before Enqueue returns.
func (r *Repository) InsertPendingAction(a *models.PendingAction) error {
	query := `
	INSERT INTO pending_actions (id, action_type, target_local_id,
		target_server_id, payload, enqueued_at, attempt_count, max_attempts,
		last_error, status)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, a.ID, a.Type, a.TargetLocalID, a.TargetServerID,
		string(a.Payload), a.EnqueuedAt, a.AttemptCount, a.MaxAttempts,
		a.LastError, a.Status)
	return err
}

// UpdatePendingAction overwrites the mutable fields of a queued action.
func (r *Repository) UpdatePendingAction(a *models.PendingAction) error {
	query := `
	UPDATE pending_actions
	SET target_server_id = ?, payload = ?, attempt_count = ?, last_error = ?,
		status = ?
	WHERE id = ?
	`
	res, err := r.db.Exec(query, a.TargetServerID, string(a.Payload),
		a.AttemptCount, a.LastError, a.Status, a.ID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// DeletePendingAction removes a queued action, typically after the remote
// confirms it.
func (r *Repository) DeletePendingAction(id string) error {
	res, err := r.db.Exec("DELETE FROM pending_actions WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ListPendingActions returns every queued action in enqueue order.
func (r *Repository) ListPendingActions() ([]*models.PendingAction, error) {
	query := `
	SELECT id, action_type, target_local_id, target_server_id, payload,
		   enqueued_at, attempt_count, max_attempts, last_error, status
	FROM pending_actions ORDER BY enqueued_at, id
	`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*models.PendingAction
	for rows.Next() {
		var a models.PendingAction
		var payload string
		err := rows.Scan(&a.ID, &a.Type, &a.TargetLocalID, &a.TargetServerID,
			&payload, &a.EnqueuedAt, &a.AttemptCount, &a.MaxAttempts,
			&a.LastError, &a.Status)
		if err != nil {
			return nil, err
		}
		a.Payload = []byte(payload)
		actions = append(actions, &a)
	}
	return actions, rows.Err()
}

// RetargetActions rewrites the server id on every queued action for a local
// record, after the server assigns that record an id.
func (r *Repository) RetargetActions(targetLocalID string, serverID int64) error {
	_, err := r.db.Exec(
		"UPDATE pending_actions SET target_server_id = ? WHERE target_local_id = ?",
		serverID, targetLocalID)
	return err
}

// CountPendingActions returns the number of actions eligible for the next
// drain (conflicted entries excluded).
func (r *Repository) CountPendingActions() (int, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM pending_actions WHERE status != ?",
		models.ActionStatusConflicted).Scan(&n)
	return n, err
}

// =====================================================
// Meta Operations
// =====================================================

// SetMeta stores a key-value pair in the meta table.
func (r *Repository) SetMeta(key, value string) error {
	query := `
	INSERT INTO meta (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value,
		updated_at = excluded.updated_at
	`
	_, err := r.db.Exec(query, key, value, time.Now().Unix())
	return err
}

// GetMeta retrieves a meta value. Returns an empty string when the key has
// never been set.
func (r *Repository) GetMeta(key string) (string, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetLastSyncAt records the completion time of the last successful sync.
func (r *Repository) SetLastSyncAt(t time.Time) error {
	return r.SetMeta(metaLastSyncAt, strconv.FormatInt(t.Unix(), 10))
}

// LastSyncAt returns the last successful sync time, or the zero time when no
// sync has completed yet.
func (r *Repository) LastSyncAt() (time.Time, error) {
	value, err := r.GetMeta(metaLastSyncAt)
	if err != nil || value == "" {
		return time.Time{}, err
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed %s value %q: %w", metaLastSyncAt, value, err)
	}
	return time.Unix(unix, 0), nil
}
