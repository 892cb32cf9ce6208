// Package service implements optimistic landmark mutations over the local
// store and the pending-action queue.
package service

import (
	"database/sql"
	stderrors "errors"

	"github.com/geomarkapp/geomark/internal/db"
	"github.com/geomarkapp/geomark/internal/errors"
	"github.com/geomarkapp/geomark/internal/models"
	"github.com/geomarkapp/geomark/internal/sync/queue"
)

// TriggerFunc asks the orchestrator for a sync cycle without blocking the
// caller. Overlapping triggers are harmless; the engine serializes cycles.
type TriggerFunc func()

// LandmarkService applies user mutations optimistically: the local row
// changes first and is marked dirty, the matching action is queued durably,
// and a drain is triggered. Confirmation arrives via the next sync cycle.
type LandmarkService struct {
	repo    *db.Repository
	queue   *queue.Queue
	trigger TriggerFunc
}

// NewLandmarkService creates a LandmarkService. A nil trigger disables the
// immediate-drain kick (useful in tests).
func NewLandmarkService(repo *db.Repository, q *queue.Queue, trigger TriggerFunc) *LandmarkService {
	if trigger == nil {
		trigger = func() {}
	}
	return &LandmarkService{repo: repo, queue: q, trigger: trigger}
}

// Fields carries the user-editable landmark fields.
type Fields struct {
	Title     string  `json:"title"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	ImagePath string  `json:"image_path,omitempty"`
}

// List returns all local landmarks.
func (s *LandmarkService) List() ([]*models.Landmark, error) {
	return s.repo.ListLandmarks()
}

// Get returns one landmark by local id.
func (s *LandmarkService) Get(localID string) (*models.Landmark, error) {
	l, err := s.repo.GetLandmark(localID)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.New(errors.ErrLandmarkNotFound, "landmark not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to load landmark", err)
	}
	return l, nil
}

// Create stores a new landmark locally (dirty, no server id yet) and queues
// the create action for the next drain.
func (s *LandmarkService) Create(f *Fields) (*models.Landmark, error) {
	landmark := &models.Landmark{
		Title:     f.Title,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		ImagePath: f.ImagePath,
		SyncState: models.SyncStateDirty,
	}
	if err := landmark.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrLandmarkInvalid, "invalid landmark", err)
	}

	if err := s.repo.CreateLandmark(landmark); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to store landmark", err)
	}

	if _, err := s.queue.Enqueue(models.ActionCreate, landmark.LocalID, 0, s.payload(f)); err != nil {
		return nil, err
	}

	s.trigger()
	return landmark, nil
}

// Update applies edits to the local row, marks it dirty, and queues the
// update action.
func (s *LandmarkService) Update(localID string, f *Fields) (*models.Landmark, error) {
	landmark, err := s.Get(localID)
	if err != nil {
		return nil, err
	}

	landmark.Title = f.Title
	landmark.Latitude = f.Latitude
	landmark.Longitude = f.Longitude
	if f.ImagePath != "" {
		landmark.ImagePath = f.ImagePath
	}
	landmark.SyncState = models.SyncStateDirty

	if err := landmark.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrLandmarkInvalid, "invalid landmark", err)
	}

	if err := s.repo.UpdateLandmark(landmark); err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to update landmark", err)
	}

	if _, err := s.queue.Enqueue(models.ActionUpdate, landmark.LocalID, landmark.ServerID, s.payload(f)); err != nil {
		return nil, err
	}

	s.trigger()
	return landmark, nil
}

// Delete removes the local row immediately and queues the delete action so
// the remote copy follows.
func (s *LandmarkService) Delete(localID string) error {
	landmark, err := s.Get(localID)
	if err != nil {
		return err
	}

	if err := s.repo.DeleteLandmark(localID); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to delete landmark", err)
	}

	if _, err := s.queue.Enqueue(models.ActionDelete, landmark.LocalID, landmark.ServerID, &models.ActionPayload{}); err != nil {
		return err
	}

	s.trigger()
	return nil
}

func (s *LandmarkService) payload(f *Fields) *models.ActionPayload {
	return &models.ActionPayload{
		Title:     f.Title,
		Latitude:  f.Latitude,
		Longitude: f.Longitude,
		ImagePath: f.ImagePath,
	}
}
