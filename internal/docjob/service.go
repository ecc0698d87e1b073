// Package docjob implements the document-processing pipeline: upload
// initiation with admission control, presigned single and multipart uploads,
// queue handoff on confirmation, and polled status/result reads fed by
// worker status updates.
package docjob

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calliope-ai/calliope/internal/config"
	"github.com/calliope-ai/calliope/internal/domain"
	"github.com/calliope-ai/calliope/internal/objectstore"
	"github.com/calliope-ai/calliope/internal/queue"
	"github.com/calliope-ai/calliope/internal/storage"
)

const presignTTL = 15 * time.Minute

// Service coordinates document jobs across the store, object store, and queue.
type Service struct {
	store   storage.DocumentJobStore
	objects objectstore.Store
	queue   queue.Publisher
	cfg     config.DocumentsConfig
	logger  *slog.Logger
	now     func() time.Time
}

func New(store storage.DocumentJobStore, objects objectstore.Store, q queue.Publisher, cfg config.DocumentsConfig, logger *slog.Logger) *Service {
	return &Service{
		store:   store,
		objects: objects,
		queue:   q,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// InitiateRequest describes an upload a client wants to start.
type InitiateRequest struct {
	UserID   string                   `json:"-"`
	FileName string                   `json:"fileName"`
	FileSize int64                    `json:"fileSize"`
	FileType string                   `json:"fileType"`
	Purpose  string                   `json:"purpose,omitempty"`
	Options  domain.ProcessingOptions `json:"options"`
}

// PartUpload is one presigned slice of a multipart upload.
type PartUpload struct {
	PartNumber int    `json:"partNumber"`
	URL        string `json:"url"`
	Size       int64  `json:"size"`
}

// InitiateResponse tells the client how to perform the upload. Exactly one
// of UploadURL or Parts is populated.
type InitiateResponse struct {
	JobID     string       `json:"jobId"`
	UploadURL string       `json:"uploadUrl,omitempty"`
	UploadID  string       `json:"uploadId,omitempty"`
	Parts     []PartUpload `json:"parts,omitempty"`
	ExpiresIn int64        `json:"expiresIn"`
}

// Initiate validates the request, applies admission control, creates the job
// in uploading state, and returns presigned upload instructions.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if err := s.admit(req); err != nil {
		return nil, err
	}

	job := &domain.DocumentJob{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Status:    domain.JobUploading,
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		FileType:  req.FileType,
		Purpose:   req.Purpose,
		Options:   req.Options,
		CreatedAt: s.now(),
	}
	job.ObjectKey = objectKey(job.ID, req.FileName)

	resp := &InitiateResponse{
		JobID:     job.ID,
		ExpiresIn: int64(presignTTL.Seconds()),
	}

	if req.FileSize <= s.cfg.MultipartThreshold {
		u, err := s.objects.PresignUpload(ctx, job.ObjectKey, presignTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to presign upload: %w", err)
		}
		resp.UploadURL = u
	} else {
		uploadID, err := s.objects.StartMultipart(ctx, job.ObjectKey)
		if err != nil {
			return nil, fmt.Errorf("failed to start multipart upload: %w", err)
		}
		job.UploadID = uploadID
		resp.UploadID = uploadID

		remaining := req.FileSize
		for part := 1; remaining > 0; part++ {
			size := s.cfg.PartSize
			if remaining < size {
				size = remaining
			}
			u, err := s.objects.PresignPart(ctx, job.ObjectKey, uploadID, part, presignTTL)
			if err != nil {
				return nil, fmt.Errorf("failed to presign part %d: %w", part, err)
			}
			resp.Parts = append(resp.Parts, PartUpload{PartNumber: part, URL: u, Size: size})
			remaining -= size
		}
	}

	if err := s.store.CreateDocumentJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("upload initiated",
		slog.String("job_id", job.ID),
		slog.Int64("file_size", req.FileSize),
		slog.Int("parts", len(resp.Parts)))
	return resp, nil
}

// admit enforces the size and option limits before any storage is touched.
func (s *Service) admit(req InitiateRequest) error {
	if strings.TrimSpace(req.FileName) == "" {
		return domain.ErrValidation("fileName is required")
	}
	if req.FileSize <= 0 {
		return domain.ErrValidation("fileSize must be positive")
	}
	if req.FileSize > s.cfg.MaxFileSize {
		return domain.ErrValidation(fmt.Sprintf("file size %d exceeds the %d byte limit", req.FileSize, s.cfg.MaxFileSize))
	}
	if req.Options.GenerateEmbeddings && req.FileSize > s.cfg.EmbeddingMaxFileSize {
		return domain.ErrValidation(fmt.Sprintf("embeddings are not available for files over %d bytes", s.cfg.EmbeddingMaxFileSize))
	}
	if req.Options.ExpensiveCount() > 2 && req.FileSize > s.cfg.ExpensiveOptionsCutoff {
		return domain.ErrValidation(fmt.Sprintf("at most 2 resource-intensive options are allowed for files over %d bytes", s.cfg.ExpensiveOptionsCutoff))
	}
	return nil
}

// Confirm marks the upload finished, assembling multipart uploads if needed,
// and hands the job to the processing queue.
func (s *Service) Confirm(ctx context.Context, userID, jobID string) (*domain.DocumentJob, error) {
	job, err := s.authorizedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobUploading {
		return nil, domain.ErrValidation(fmt.Sprintf("job is %s, expected %s", job.Status, domain.JobUploading))
	}

	if job.UploadID != "" {
		if err := s.objects.CompleteMultipart(ctx, job.ObjectKey, job.UploadID); err != nil {
			return nil, fmt.Errorf("failed to complete multipart upload: %w", err)
		}
	}

	task := queue.ProcessingTask{
		JobID:      job.ID,
		UserID:     job.UserID,
		ObjectKey:  job.ObjectKey,
		FileName:   job.FileName,
		FileSize:   job.FileSize,
		Options:    job.Options,
		EnqueuedAt: s.now(),
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	job.Status = domain.JobQueued
	if err := s.store.UpdateDocumentJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job queued", slog.String("job_id", job.ID))
	return job, nil
}

// Status returns the current job record. Terminal jobs stay readable until
// retention expires, so repeated reads are safe.
func (s *Service) Status(ctx context.Context, userID, jobID string) (*domain.DocumentJob, error) {
	return s.authorizedJob(ctx, userID, jobID)
}

// ResultView is the client-facing result shape: either the inline payload or
// a presigned download URL for oversized results.
type ResultView struct {
	JobID       string `json:"jobId"`
	Result      string `json:"result,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
}

// Result returns the job result, presigning a download for results that were
// too large to keep inline.
func (s *Service) Result(ctx context.Context, userID, jobID string) (*ResultView, error) {
	job, err := s.authorizedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted {
		return nil, domain.ErrValidation(fmt.Sprintf("job is %s, result is only available once completed", job.Status))
	}

	view := &ResultView{JobID: job.ID}
	switch job.ResultLocation {
	case domain.ResultObjectStore:
		u, err := s.objects.PresignDownload(ctx, job.ResultRef, presignTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to presign result download: %w", err)
		}
		view.DownloadURL = u
	default:
		view.Result = job.Result
	}
	return view, nil
}

// Cancel stops a non-terminal job. Uploads in flight have their multipart
// state aborted; work already handed to a worker finishes but its result is
// discarded on the status update path.
func (s *Service) Cancel(ctx context.Context, userID, jobID string) (*domain.DocumentJob, error) {
	job, err := s.authorizedJob(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, domain.ErrValidation(fmt.Sprintf("job is already %s", job.Status))
	}

	if job.Status == domain.JobUploading && job.UploadID != "" {
		if err := s.objects.AbortMultipart(ctx, job.ObjectKey, job.UploadID); err != nil {
			s.logger.Warn("failed to abort multipart upload",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()))
		}
	}

	now := s.now()
	job.Status = domain.JobCancelled
	job.CompletedAt = &now
	if err := s.store.UpdateDocumentJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("job cancelled", slog.String("job_id", job.ID))
	return job, nil
}

// ApplyStatusUpdate folds a worker status update into the job record.
// Updates for cancelled jobs are dropped. Results over the inline limit are
// moved to the object store and referenced by key.
func (s *Service) ApplyStatusUpdate(ctx context.Context, update queue.StatusUpdate) error {
	job, err := s.store.GetDocumentJob(ctx, update.JobID)
	if err != nil {
		return err
	}
	if job.Status == domain.JobCancelled {
		s.logger.Debug("ignoring update for cancelled job", slog.String("job_id", job.ID))
		return nil
	}

	job.Status = update.Status
	job.Progress = update.Progress
	job.ProcessingStage = update.ProcessingStage
	job.ErrorMessage = update.Error

	if update.Status == domain.JobCompleted {
		job.Progress = 100
		result := string(update.Result)
		if int64(len(result)) > s.cfg.InlineResultLimit {
			key := job.ObjectKey + ".result.json"
			if err := s.objects.Put(ctx, key, update.Result); err != nil {
				return fmt.Errorf("failed to store oversized result: %w", err)
			}
			job.ResultLocation = domain.ResultObjectStore
			job.ResultRef = key
		} else if update.ResultKey != "" {
			job.ResultLocation = domain.ResultObjectStore
			job.ResultRef = update.ResultKey
		} else {
			job.ResultLocation = domain.ResultInline
			job.Result = result
		}
	}

	if job.Status.Terminal() && job.CompletedAt == nil {
		now := s.now()
		job.CompletedAt = &now
	}

	return s.store.UpdateDocumentJob(ctx, job)
}

func (s *Service) authorizedJob(ctx context.Context, userID, jobID string) (*domain.DocumentJob, error) {
	job, err := s.store.GetDocumentJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != "" && userID != "" && job.UserID != userID {
		return nil, domain.ErrNotFound(fmt.Sprintf("document job %s not found", jobID))
	}
	return job, nil
}

func objectKey(jobID, fileName string) string {
	return path.Join("uploads", jobID, path.Base(fileName))
}
