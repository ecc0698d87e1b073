package domain

import "time"

// JobStatus enumerates document job lifecycle states.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobUploading  JobStatus = "uploading"
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether the status ends the job. Clients must stop
// polling once any terminal status is observed.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ProcessingOptions are flags controlling expensive document sub-operations.
type ProcessingOptions struct {
	ExtractText        bool `json:"extract_text"`
	GenerateEmbeddings bool `json:"generate_embeddings"`
	GenerateSummary    bool `json:"generate_summary"`
	DetectLanguage     bool `json:"detect_language"`
	OCR                bool `json:"ocr"`
}

// ExpensiveCount returns how many resource-intensive options are enabled.
// Text extraction and language detection are cheap and not counted.
func (o ProcessingOptions) ExpensiveCount() int {
	n := 0
	if o.GenerateEmbeddings {
		n++
	}
	if o.GenerateSummary {
		n++
	}
	if o.OCR {
		n++
	}
	return n
}

// ResultLocation describes where a job result lives.
type ResultLocation string

const (
	ResultInline      ResultLocation = "inline"
	ResultObjectStore ResultLocation = "object-store"
)

// DocumentJob is a durable, cross-process unit of document-processing work
// tracked by polling. Created on upload initiation, mutated by the confirm
// step and later by the external worker, terminal once
// completed/failed/cancelled.
type DocumentJob struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id,omitempty"`
	Status          JobStatus         `json:"status"`
	Progress        int               `json:"progress"` // 0-100
	ProcessingStage string            `json:"processing_stage,omitempty"`
	FileName        string            `json:"file_name"`
	FileSize        int64             `json:"file_size"`
	FileType        string            `json:"file_type"`
	Purpose         string            `json:"purpose,omitempty"`
	Options         ProcessingOptions `json:"options"`
	UploadID        string            `json:"upload_id,omitempty"` // multipart upload id, if any
	ObjectKey       string            `json:"object_key,omitempty"`
	ResultLocation  ResultLocation    `json:"result_location,omitempty"`
	Result          string            `json:"result,omitempty"`     // inline result payload
	ResultRef       string            `json:"result_ref,omitempty"` // object-store key for oversized results
	ErrorMessage    string            `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}
