package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/google/uuid"
	"github.com/tunefile/apiserver/internal/store"
	"github.com/tunefile/apiserver/types"
)

// FileRepository defines persistence operations for workflow instances.
type FileRepository interface {
	CreateSubmission(ctx context.Context, file types.EcuFile) (types.EcuFile, error)
	Get(ctx context.Context, id int) (types.EcuFile, error)
	List(ctx context.Context, filter store.FileFilter, offset, limit int) ([]types.EcuFile, int, error)
	UpdateStatus(ctx context.Context, fileID int, from, to types.FileStatus, actorID int, comment string) (types.StatusEntry, error)
	SetModifiedKey(ctx context.Context, fileID int, key string) error
	Assign(ctx context.Context, fileID, expertID, actorID int) error
	AddComment(ctx context.Context, comment types.Comment) (types.Comment, error)
	GetComment(ctx context.Context, id int) (types.Comment, error)
}

// BlobStore abstracts the object storage holding ECU binaries and comment
// images.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Upload is a file received from a multipart form.
type Upload struct {
	Name string
	Data []byte
}

// legalTransitions is the workflow transition table. Admins may bypass it
// with an explicit force flag.
var legalTransitions = map[types.FileStatus][]types.FileStatus{
	types.StatusPending:    {types.StatusProcessing, types.StatusRejected},
	types.StatusProcessing: {types.StatusCompleted, types.StatusRejected},
}

func transitionAllowed(from, to types.FileStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FileService encapsulates the file submission workflow: pricing, the
// credit debit, status transitions, assignment, comments and downloads.
type FileService struct {
	repo     FileRepository
	users    UserDirectory
	blobs    BlobStore
	notifier *NotificationService
	logger   *slog.Logger
}

func NewFileService(repo FileRepository, users UserDirectory, blobs BlobStore, notifier *NotificationService, logger *slog.Logger) *FileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileService{
		repo:     repo,
		users:    users,
		blobs:    blobs,
		notifier: notifier,
		logger:   logger,
	}
}

// Submit prices the requested options, stores the uploaded binary and
// creates the workflow instance together with the credit debit. The binary
// write happens first; if the database transaction then fails, the stored
// object is deleted again so nothing is charged for a submission that does
// not exist.
func (s *FileService) Submit(ctx context.Context, ownerID int, upload Upload, vehicle types.VehicleInfo, opts types.TuningOptions) (types.EcuFile, error) {
	if len(upload.Data) == 0 {
		return types.EcuFile{}, ErrMissingUpload
	}

	total, err := ComputeCredits(opts)
	if err != nil {
		return types.EcuFile{}, err
	}

	key := originalKey(upload.Name)
	if err := s.blobs.Put(ctx, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), "application/octet-stream"); err != nil {
		return types.EcuFile{}, fmt.Errorf("store upload: %w", err)
	}

	file, err := s.repo.CreateSubmission(ctx, types.EcuFile{
		OwnerID:      ownerID,
		Vehicle:      vehicle,
		Options:      opts,
		TotalCredits: total,
		OriginalName: upload.Name,
		OriginalKey:  key,
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Warn("orphaned upload cleanup failed", "key", key, "err", delErr)
		}
		return types.EcuFile{}, err
	}

	s.notifier.FanOut(ctx, Event{
		Kind:    types.NotifyNewFile,
		FileID:  file.ID,
		ActorID: ownerID,
		OwnerID: ownerID,
	})
	return file, nil
}

// GetForUser returns a workflow instance if the actor is its owner, its
// assigned expert, or an admin.
func (s *FileService) GetForUser(ctx context.Context, fileID int, actor types.User) (types.EcuFile, error) {
	file, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return types.EcuFile{}, err
	}
	if !canAccess(file, actor) {
		return types.EcuFile{}, ErrForbidden
	}
	return file, nil
}

func canAccess(file types.EcuFile, actor types.User) bool {
	return actor.IsAdmin() ||
		file.OwnerID == actor.ID ||
		(file.AssignedExpertID != 0 && file.AssignedExpertID == actor.ID)
}

// ListForUser returns workflow instances visible to the actor: admins see
// everything, experts their assignments, customers their own files.
func (s *FileService) ListForUser(ctx context.Context, actor types.User, status types.FileStatus, offset, limit int) ([]types.EcuFile, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, ErrInvalidStatus
	}

	filter := store.FileFilter{Status: status}
	switch {
	case actor.IsAdmin():
	case actor.IsExpert():
		filter.ExpertID = actor.ID
	default:
		filter.OwnerID = actor.ID
	}
	return s.repo.List(ctx, filter, offset, limit)
}

// Transition moves a file to a new workflow state, appends the audit
// entry and notifies the interested parties. Transitions outside the
// legal table are rejected unless force is set by an admin.
func (s *FileService) Transition(ctx context.Context, fileID int, to types.FileStatus, actor types.User, comment string, force bool) (types.EcuFile, error) {
	if !to.Valid() {
		return types.EcuFile{}, ErrInvalidStatus
	}

	file, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return types.EcuFile{}, err
	}

	if !transitionAllowed(file.Status, to) && !(force && actor.IsAdmin()) {
		return types.EcuFile{}, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, file.Status, to)
	}

	// The store re-checks the from state under a row lock. When another
	// request moved the file in the meantime, the validated transition no
	// longer applies and must not commit.
	if _, err := s.repo.UpdateStatus(ctx, fileID, file.Status, to, actor.ID, comment); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.EcuFile{}, fmt.Errorf("%w: file is no longer %s", ErrIllegalTransition, file.Status)
		}
		return types.EcuFile{}, err
	}

	s.notifier.FanOut(ctx, Event{
		Kind:      types.NotifyStatusChange,
		FileID:    fileID,
		ActorID:   actor.ID,
		OwnerID:   file.OwnerID,
		ExpertID:  file.AssignedExpertID,
		NewStatus: to,
	})

	return s.repo.Get(ctx, fileID)
}

// SendToClient stores the processed binary, records it on the file and
// completes the workflow. Completing through this path without a processed
// binary (either freshly uploaded or recorded earlier) fails.
func (s *FileService) SendToClient(ctx context.Context, fileID int, actor types.User, upload Upload, comment string) (types.EcuFile, error) {
	file, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return types.EcuFile{}, err
	}

	if len(upload.Data) > 0 {
		key := modifiedKey(upload.Name)
		if err := s.blobs.Put(ctx, key, bytes.NewReader(upload.Data), int64(len(upload.Data)), "application/octet-stream"); err != nil {
			return types.EcuFile{}, fmt.Errorf("store modified file: %w", err)
		}
		if err := s.repo.SetModifiedKey(ctx, fileID, key); err != nil {
			if delErr := s.blobs.Delete(ctx, key); delErr != nil {
				s.logger.Warn("orphaned upload cleanup failed", "key", key, "err", delErr)
			}
			return types.EcuFile{}, err
		}
	} else if file.ModifiedKey == "" {
		return types.EcuFile{}, ErrMissingModifiedFile
	}

	return s.Transition(ctx, fileID, types.StatusCompleted, actor, comment, actor.IsAdmin())
}

// Assign sets the expert responsible for a file and notifies both the
// expert and the owner.
func (s *FileService) Assign(ctx context.Context, fileID, expertID int, actor types.User) (types.EcuFile, error) {
	expert, err := s.users.GetByID(ctx, expertID)
	if err != nil {
		return types.EcuFile{}, err
	}
	if !expert.IsExpert() {
		return types.EcuFile{}, ErrNotAnExpert
	}

	file, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return types.EcuFile{}, err
	}
	if file.Status.Terminal() {
		return types.EcuFile{}, fmt.Errorf("%w: file is %s", ErrFileClosed, file.Status)
	}

	if err := s.repo.Assign(ctx, fileID, expertID, actor.ID); err != nil {
		return types.EcuFile{}, err
	}

	s.notifier.FanOut(ctx, Event{
		Kind:     types.NotifyAssignment,
		FileID:   fileID,
		ActorID:  actor.ID,
		OwnerID:  file.OwnerID,
		ExpertID: expertID,
	})

	return s.repo.Get(ctx, fileID)
}

// AddComment appends a message to the file's discussion and notifies every
// interested party except the author. Requires at least text or an image.
func (s *FileService) AddComment(ctx context.Context, fileID int, actor types.User, text string, image Upload) (types.Comment, error) {
	if text == "" && len(image.Data) == 0 {
		return types.Comment{}, ErrEmptyComment
	}

	file, err := s.repo.Get(ctx, fileID)
	if err != nil {
		return types.Comment{}, err
	}
	if !canAccess(file, actor) {
		return types.Comment{}, ErrForbidden
	}

	imageKey := ""
	if len(image.Data) > 0 {
		imageKey = commentImageKey(image.Name)
		if err := s.blobs.Put(ctx, imageKey, bytes.NewReader(image.Data), int64(len(image.Data)), "image/octet-stream"); err != nil {
			return types.Comment{}, fmt.Errorf("store comment image: %w", err)
		}
	}

	comment, err := s.repo.AddComment(ctx, types.Comment{
		FileID:   fileID,
		AuthorID: actor.ID,
		Text:     text,
		ImageKey: imageKey,
	})
	if err != nil {
		if imageKey != "" {
			if delErr := s.blobs.Delete(ctx, imageKey); delErr != nil {
				s.logger.Warn("orphaned upload cleanup failed", "key", imageKey, "err", delErr)
			}
		}
		return types.Comment{}, err
	}

	s.notifier.FanOut(ctx, Event{
		Kind:     types.NotifyNewComment,
		FileID:   fileID,
		ActorID:  actor.ID,
		OwnerID:  file.OwnerID,
		ExpertID: file.AssignedExpertID,
	})

	return comment, nil
}

// OpenOriginal streams the uploaded binary for an authorized actor.
func (s *FileService) OpenOriginal(ctx context.Context, fileID int, actor types.User) (io.ReadCloser, string, error) {
	file, err := s.GetForUser(ctx, fileID, actor)
	if err != nil {
		return nil, "", err
	}
	reader, err := s.blobs.Get(ctx, file.OriginalKey)
	if err != nil {
		return nil, "", err
	}
	return reader, file.OriginalName, nil
}

// OpenModified streams the processed binary for an authorized actor.
func (s *FileService) OpenModified(ctx context.Context, fileID int, actor types.User) (io.ReadCloser, string, error) {
	file, err := s.GetForUser(ctx, fileID, actor)
	if err != nil {
		return nil, "", err
	}
	if file.ModifiedKey == "" {
		return nil, "", ErrMissingModifiedFile
	}
	reader, err := s.blobs.Get(ctx, file.ModifiedKey)
	if err != nil {
		return nil, "", err
	}
	return reader, "modified_"+file.OriginalName, nil
}

// OpenCommentImage streams an image attached to a discussion comment for
// an actor with access to the file.
func (s *FileService) OpenCommentImage(ctx context.Context, fileID, commentID int, actor types.User) (io.ReadCloser, string, error) {
	if _, err := s.GetForUser(ctx, fileID, actor); err != nil {
		return nil, "", err
	}
	comment, err := s.repo.GetComment(ctx, commentID)
	if err != nil {
		return nil, "", err
	}
	if comment.FileID != fileID || comment.ImageKey == "" {
		return nil, "", store.ErrNotFound
	}
	reader, err := s.blobs.Get(ctx, comment.ImageKey)
	if err != nil {
		return nil, "", err
	}
	return reader, path.Base(comment.ImageKey), nil
}

// Object keys are generated server-side; file lookups never reconstruct
// paths from human-readable names.
func originalKey(name string) string {
	return "originals/" + uuid.NewString() + path.Ext(name)
}

func modifiedKey(name string) string {
	return "modified/" + uuid.NewString() + path.Ext(name)
}

func commentImageKey(name string) string {
	return "comments/" + uuid.NewString() + path.Ext(name)
}
