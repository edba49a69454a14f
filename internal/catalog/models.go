// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package catalog is the durable relational state of the service: channels,
// messages, attachments, designs, files, jobs, tags, families, import
// records, duplicate candidates, previews and settings. All cross-entity
// invariants (uniqueness, ordered design status, family membership) are
// enforced here, either by schema constraints or by the transaction helpers.
package catalog

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ChannelKind distinguishes physical remote feeds from virtual channels
// auto-created for import sources.
type ChannelKind string

const (
	ChannelChat    ChannelKind = "CHAT"
	ChannelVirtual ChannelKind = "VIRTUAL"
)

// BackfillMode controls how much history a channel backfill pulls.
type BackfillMode string

const (
	BackfillAllHistory    BackfillMode = "ALL_HISTORY"
	BackfillLastNMessages BackfillMode = "LAST_N_MESSAGES"
	BackfillLastNDays     BackfillMode = "LAST_N_DAYS"
)

// DownloadMode controls whether ingestion auto-queues downloads.
type DownloadMode string

const (
	DownloadManual DownloadMode = "MANUAL"
	DownloadAllNew DownloadMode = "DOWNLOAD_ALL_NEW"
	DownloadAll    DownloadMode = "DOWNLOAD_ALL"
)

// Channel is an ingestion feed.
type Channel struct {
	ID             string       `db:"id" json:"id"`
	Kind           ChannelKind  `db:"kind" json:"kind"`
	UpstreamID     *int64       `db:"upstream_id" json:"upstream_id,omitempty"`
	Title          string       `db:"title" json:"title"`
	Enabled        bool         `db:"enabled" json:"enabled"`
	BackfillMode   BackfillMode `db:"backfill_mode" json:"backfill_mode"`
	BackfillValue  int          `db:"backfill_value" json:"backfill_value"`
	DownloadMode   DownloadMode `db:"download_mode" json:"download_mode"`
	// DownloadModeEnabledAt is the instant the mode first became
	// non-manual; DOWNLOAD_ALL_NEW gates auto-queueing on it.
	DownloadModeEnabledAt *time.Time `db:"download_mode_enabled_at" json:"download_mode_enabled_at,omitempty"`
	// LastMessageID is the incremental sync cursor (highest upstream
	// message id seen).
	LastMessageID  *int64     `db:"last_message_id" json:"last_message_id,omitempty"`
	LastSyncedAt   *time.Time `db:"last_synced_at" json:"last_synced_at,omitempty"`
	ImportSourceID *string    `db:"import_source_id" json:"import_source_id,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// Message is a raw upstream item. Immutable after creation.
type Message struct {
	ID                string    `db:"id" json:"id"`
	ChannelID         string    `db:"channel_id" json:"channel_id"`
	UpstreamMessageID int64     `db:"upstream_message_id" json:"upstream_message_id"`
	PostedAt          time.Time `db:"posted_at" json:"posted_at"`
	Author            string    `db:"author" json:"author"`
	Caption           string    `db:"caption" json:"caption"`
	HasMedia          bool      `db:"has_media" json:"has_media"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// DownloadState tracks an attachment through fetch.
type DownloadState string

const (
	DownloadStateNone        DownloadState = "NOT_DOWNLOADED"
	DownloadStateDownloading DownloadState = "DOWNLOADING"
	DownloadStateDownloaded  DownloadState = "DOWNLOADED"
	DownloadStateFailed      DownloadState = "FAILED"
)

// Attachment is a file or media object on a message.
type Attachment struct {
	ID            string        `db:"id" json:"id"`
	MessageID     string        `db:"message_id" json:"message_id"`
	MediaKind     string        `db:"media_kind" json:"media_kind"`
	Filename      string        `db:"filename" json:"filename"`
	MIME          string        `db:"mime" json:"mime"`
	SizeBytes     int64         `db:"size_bytes" json:"size_bytes"`
	Extension     string        `db:"extension" json:"extension"`
	IsCandidate   bool          `db:"is_candidate" json:"is_candidate"`
	DownloadState DownloadState `db:"download_state" json:"download_state"`
	LocalPath     *string       `db:"local_path" json:"local_path,omitempty"`
	SHA256        *string       `db:"sha256" json:"sha256,omitempty"`
	// FetchRef is the adapter-specific handle used to fetch the bytes.
	FetchRef  string    `db:"fetch_ref" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DesignStatus is the design lifecycle. Transitions are monotone along the
// chain; DELETED is a terminal cross-cut used by merge.
type DesignStatus string

const (
	StatusDiscovered  DesignStatus = "DISCOVERED"
	StatusWanted      DesignStatus = "WANTED"
	StatusDownloading DesignStatus = "DOWNLOADING"
	StatusDownloaded  DesignStatus = "DOWNLOADED"
	StatusOrganized   DesignStatus = "ORGANIZED"
	StatusDeleted     DesignStatus = "DELETED"
)

// statusRank orders the chain for the forward-only check.
var statusRank = map[DesignStatus]int{
	StatusDiscovered:  0,
	StatusWanted:      1,
	StatusDownloading: 2,
	StatusDownloaded:  3,
	StatusOrganized:   4,
	StatusDeleted:     99,
}

// CanAdvance reports whether a design may move from to next without going
// backwards. DELETED is reachable from anywhere.
func (s DesignStatus) CanAdvance(next DesignStatus) bool {
	if next == StatusDeleted {
		return true
	}
	return statusRank[next] >= statusRank[s]
}

// Multicolor is the tri-state multicolor flag.
type Multicolor string

const (
	MulticolorUnknown Multicolor = "UNKNOWN"
	MulticolorSingle  Multicolor = "SINGLE"
	MulticolorMulti   Multicolor = "MULTI"
)

// MulticolorSource records which stage decided the flag. Precedence:
// USER_OVERRIDE > 3MF_ANALYSIS > HEURISTIC.
type MulticolorSource string

const (
	MulticolorFromHeuristic MulticolorSource = "HEURISTIC"
	MulticolorFrom3MF       MulticolorSource = "3MF_ANALYSIS"
	MulticolorFromUser      MulticolorSource = "USER_OVERRIDE"
)

var multicolorSourceRank = map[MulticolorSource]int{
	MulticolorFromHeuristic: 1,
	MulticolorFrom3MF:       2,
	MulticolorFromUser:      3,
}

// MetadataAuthority records who owns the canonical title/designer.
type MetadataAuthority string

const (
	AuthoritySource   MetadataAuthority = "SOURCE"
	AuthorityUser     MetadataAuthority = "USER"
	AuthorityExternal MetadataAuthority = "EXTERNAL"
)

// Design is the deduplicated catalogue item.
type Design struct {
	ID                string            `db:"id" json:"id"`
	CanonicalTitle    string            `db:"canonical_title" json:"canonical_title" validate:"required"`
	CanonicalDesigner string            `db:"canonical_designer" json:"canonical_designer"`
	TitleOverride     *string           `db:"title_override" json:"title_override,omitempty"`
	DesignerOverride  *string           `db:"designer_override" json:"designer_override,omitempty"`
	Status            DesignStatus      `db:"status" json:"status"`
	Multicolor        Multicolor        `db:"multicolor" json:"multicolor"`
	MulticolorSource  *MulticolorSource `db:"multicolor_source" json:"multicolor_source,omitempty"`
	PrimaryFileType   *string           `db:"primary_file_type" json:"primary_file_type,omitempty"`
	TotalSizeBytes    int64             `db:"total_size_bytes" json:"total_size_bytes"`
	MetadataAuthority MetadataAuthority `db:"metadata_authority" json:"metadata_authority"`
	ImportSourceID    *string           `db:"import_source_id" json:"import_source_id,omitempty"`
	FamilyID          *string           `db:"family_id" json:"family_id,omitempty"`
	FamilyVariant     *string           `db:"family_variant" json:"family_variant,omitempty"`
	// ExternalProvider/ExternalID link external metadata when present.
	ExternalProvider *string         `db:"external_provider" json:"external_provider,omitempty"`
	ExternalID       *string         `db:"external_id" json:"external_id,omitempty"`
	ExternalMeta     json.RawMessage `db:"external_meta" json:"external_meta,omitempty"`
	// NormTitle/NormDesigner are the application-normalised match keys,
	// recomputed on every title/designer write.
	NormTitle    string    `db:"norm_title" json:"-"`
	NormDesigner string    `db:"norm_designer" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Title returns the user override when present, the canonical title
// otherwise.
func (d *Design) Title() string {
	if d.TitleOverride != nil && *d.TitleOverride != "" {
		return *d.TitleOverride
	}
	return d.CanonicalTitle
}

// Designer returns the user override when present, the canonical designer
// otherwise.
func (d *Design) Designer() string {
	if d.DesignerOverride != nil && *d.DesignerOverride != "" {
		return *d.DesignerOverride
	}
	return d.CanonicalDesigner
}

// DesignSource links a design to one of its messages.
type DesignSource struct {
	ID        string    `db:"id" json:"id"`
	DesignID  string    `db:"design_id" json:"design_id"`
	ChannelID string    `db:"channel_id" json:"channel_id"`
	MessageID string    `db:"message_id" json:"message_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FileKind classifies a design file on disk.
type FileKind string

const (
	FileModel   FileKind = "MODEL"
	FileArchive FileKind = "ARCHIVE"
	FileImage   FileKind = "IMAGE"
	FileOther   FileKind = "OTHER"
)

// DesignFile is a concrete file on disk belonging to a design.
type DesignFile struct {
	ID              string    `db:"id" json:"id"`
	DesignID        string    `db:"design_id" json:"design_id"`
	RelativePath    string    `db:"relative_path" json:"relative_path"`
	Filename        string    `db:"filename" json:"filename"`
	Extension       string    `db:"extension" json:"extension"`
	SizeBytes       int64     `db:"size_bytes" json:"size_bytes"`
	SHA256          *string   `db:"sha256" json:"sha256,omitempty"`
	FileKind        FileKind  `db:"file_kind" json:"file_kind"`
	ModelKind       *string   `db:"model_kind" json:"model_kind,omitempty"`
	IsFromArchive   bool      `db:"is_from_archive" json:"is_from_archive"`
	ParentArchiveID *string   `db:"parent_archive_id" json:"parent_archive_id,omitempty"`
	IsPrimary       bool      `db:"is_primary" json:"is_primary"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// JobKind names a pipeline stage.
type JobKind string

const (
	JobBackfillChannel      JobKind = "BACKFILL_CHANNEL"
	JobSyncChannelLive      JobKind = "SYNC_CHANNEL_LIVE"
	JobDownloadDesign       JobKind = "DOWNLOAD_DESIGN"
	JobExtractArchive       JobKind = "EXTRACT_ARCHIVE"
	JobImportToLibrary      JobKind = "IMPORT_TO_LIBRARY"
	JobAnalyze3MF           JobKind = "ANALYZE_3MF"
	JobGenerateRender       JobKind = "GENERATE_RENDER"
	JobDedupeReconcile      JobKind = "DEDUPE_RECONCILE"
	JobDownloadImportRecord JobKind = "DOWNLOAD_IMPORT_RECORD"
	JobAIAnalyzeDesign      JobKind = "AI_ANALYZE_DESIGN"
	JobDetectFamilyOverlap  JobKind = "DETECT_FAMILY_OVERLAP"
)

// PipelineKinds are the design-scoped kinds subject to the idempotent
// enqueue rule: at most one QUEUED or RUNNING job per (design, kind).
var PipelineKinds = map[JobKind]bool{
	JobDownloadDesign:      true,
	JobExtractArchive:      true,
	JobImportToLibrary:     true,
	JobGenerateRender:      true,
	JobDedupeReconcile:     true,
	JobAIAnalyzeDesign:     true,
	JobDetectFamilyOverlap: true,
}

// JobStatus is the queue lifecycle of a job.
type JobStatus string

const (
	JobQueued   JobStatus = "QUEUED"
	JobRunning  JobStatus = "RUNNING"
	JobSuccess  JobStatus = "SUCCESS"
	JobFailed   JobStatus = "FAILED"
	JobCanceled JobStatus = "CANCELED"
)

// Job is a durable work item.
type Job struct {
	ID              string          `db:"id" json:"id"`
	Kind            JobKind         `db:"kind" json:"kind"`
	Status          JobStatus       `db:"status" json:"status"`
	Priority        int             `db:"priority" json:"priority"`
	DesignID        *string         `db:"design_id" json:"design_id,omitempty"`
	ChannelID       *string         `db:"channel_id" json:"channel_id,omitempty"`
	Payload         json.RawMessage `db:"payload" json:"payload,omitempty"`
	Result          json.RawMessage `db:"result" json:"result,omitempty"`
	ProgressCurrent int64           `db:"progress_current" json:"progress_current"`
	ProgressTotal   int64           `db:"progress_total" json:"progress_total"`
	Attempts        int             `db:"attempts" json:"attempts"`
	MaxAttempts     int             `db:"max_attempts" json:"max_attempts"`
	NextRetryAt     *time.Time      `db:"next_retry_at" json:"next_retry_at,omitempty"`
	LastError       *string         `db:"last_error" json:"last_error,omitempty"`
	WorkerID        *string         `db:"worker_id" json:"worker_id,omitempty"`
	HeartbeatAt     *time.Time      `db:"heartbeat_at" json:"heartbeat_at,omitempty"`
	CancelRequested bool            `db:"cancel_requested" json:"cancel_requested"`
	DisplayName     string          `db:"display_name" json:"display_name"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	StartedAt       *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt      *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}

// DurationMS returns the job's run duration in milliseconds, 0 while it has
// not finished.
func (j *Job) DurationMS() int64 {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.StartedAt).Milliseconds()
}

// TagSource classifies where a tag assignment came from.
type TagSource string

const (
	TagFromUser     TagSource = "USER"
	TagFromManual   TagSource = "MANUAL"
	TagFromCaption  TagSource = "AUTO_CAPTION"
	TagFromFilename TagSource = "AUTO_FILENAME"
	TagFromExternal TagSource = "AUTO_EXTERNAL"
	TagFromAI       TagSource = "AI"
)

// Tag is a lowercase unique tag name, optionally predefined with a category.
type Tag struct {
	ID           string  `db:"id" json:"id"`
	Name         string  `db:"name" json:"name"`
	Category     *string `db:"category" json:"category,omitempty"`
	IsPredefined bool    `db:"is_predefined" json:"is_predefined"`
}

// DesignTag links a tag to a design with its provenance.
type DesignTag struct {
	DesignID string    `db:"design_id" json:"design_id"`
	TagID    string    `db:"tag_id" json:"tag_id"`
	Source   TagSource `db:"source" json:"source"`
}

// FamilyTag links a tag to a family with its provenance.
type FamilyTag struct {
	FamilyID string    `db:"family_id" json:"family_id"`
	TagID    string    `db:"tag_id" json:"tag_id"`
	Source   TagSource `db:"source" json:"source"`
}

// ImportSourceKind names the driver behind an import source.
type ImportSourceKind string

const (
	ImportDrive  ImportSourceKind = "DRIVE"
	ImportForum  ImportSourceKind = "FORUM"
	ImportLocal  ImportSourceKind = "LOCAL"
	ImportUpload ImportSourceKind = "UPLOAD"
)

// ImportSource is a logical container of one or more upstream folders.
type ImportSource struct {
	ID              string           `db:"id" json:"id"`
	Name            string           `db:"name" json:"name" validate:"required"`
	Kind            ImportSourceKind `db:"kind" json:"kind" validate:"required"`
	Enabled         bool             `db:"enabled" json:"enabled"`
	DesignerDefault *string          `db:"designer_default" json:"designer_default,omitempty"`
	ProfileID       *string          `db:"profile_id" json:"profile_id,omitempty"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// ImportSourceFolder is one upstream location inside an import source. A
// folder may override the source's profile, designer and tag defaults.
type ImportSourceFolder struct {
	ID               string          `db:"id" json:"id"`
	SourceID         string          `db:"source_id" json:"source_id"`
	Location         string          `db:"location" json:"location" validate:"required"`
	MaxDepth         int             `db:"max_depth" json:"max_depth"`
	ProfileID        *string         `db:"profile_id" json:"profile_id,omitempty"`
	DesignerOverride *string         `db:"designer_override" json:"designer_override,omitempty"`
	TagDefaults      json.RawMessage `db:"tag_defaults" json:"tag_defaults,omitempty"`
	Enabled          bool            `db:"enabled" json:"enabled"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// ImportProfile is a structured JSON detection config.
type ImportProfile struct {
	ID        string          `db:"id" json:"id"`
	Name      string          `db:"name" json:"name" validate:"required"`
	IsBuiltin bool            `db:"is_builtin" json:"is_builtin"`
	Config    json.RawMessage `db:"config" json:"config"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ImportRecordStatus tracks a per-file import outcome.
type ImportRecordStatus string

const (
	RecordPending  ImportRecordStatus = "PENDING"
	RecordImported ImportRecordStatus = "IMPORTED"
	RecordFailed   ImportRecordStatus = "FAILED"
	RecordSkipped  ImportRecordStatus = "SKIPPED"
)

// ImportRecord tracks one source path through import. Unique per
// (folder, source_path); re-walks of a source are idempotent through it.
type ImportRecord struct {
	ID         string             `db:"id" json:"id"`
	FolderID   string             `db:"folder_id" json:"folder_id"`
	SourcePath string             `db:"source_path" json:"source_path"`
	DesignID   *string            `db:"design_id" json:"design_id,omitempty"`
	Status     ImportRecordStatus `db:"status" json:"status"`
	Error      *string            `db:"error" json:"error,omitempty"`
	ImportedAt *time.Time         `db:"imported_at" json:"imported_at,omitempty"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
}

// MatchType names a duplicate detection strategy.
type MatchType string

const (
	MatchHash          MatchType = "HASH"
	MatchExternalID    MatchType = "EXTERNAL_ID"
	MatchTitleDesigner MatchType = "TITLE_DESIGNER"
	MatchFilenameSize  MatchType = "FILENAME_SIZE"
)

// ConfidenceFor returns the fixed confidence for a match type.
func ConfidenceFor(mt MatchType) float64 {
	switch mt {
	case MatchHash, MatchExternalID:
		return 1.0
	case MatchTitleDesigner:
		return 0.7
	case MatchFilenameSize:
		return 0.5
	default:
		return 0
	}
}

// CandidateStatus is the review state of a duplicate pair.
type CandidateStatus string

const (
	CandidatePending  CandidateStatus = "PENDING"
	CandidateMerged   CandidateStatus = "MERGED"
	CandidateRejected CandidateStatus = "REJECTED"
)

// DuplicateCandidate is a pending duplicate pair.
type DuplicateCandidate struct {
	ID          string          `db:"id" json:"id"`
	DesignID    string          `db:"design_id" json:"design_id"`
	CandidateID string          `db:"candidate_id" json:"candidate_id"`
	MatchType   MatchType       `db:"match_type" json:"match_type"`
	Confidence  float64         `db:"confidence" json:"confidence"`
	Status      CandidateStatus `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// FamilyDetectionMethod names how a family was discovered.
type FamilyDetectionMethod string

const (
	FamilyByNamePattern FamilyDetectionMethod = "NAME_PATTERN"
	FamilyByHashOverlap FamilyDetectionMethod = "FILE_HASH_OVERLAP"
	FamilyByAI          FamilyDetectionMethod = "AI_DETECTED"
	FamilyByManual      FamilyDetectionMethod = "MANUAL"
)

// DesignFamily groups design variants sharing a base identity.
type DesignFamily struct {
	ID                  string                `db:"id" json:"id"`
	Name                string                `db:"name" json:"name"`
	DetectionMethod     FamilyDetectionMethod `db:"detection_method" json:"detection_method"`
	DetectionConfidence float64               `db:"detection_confidence" json:"detection_confidence"`
	CreatedAt           time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time             `db:"updated_at" json:"updated_at"`
}

// PreviewSource names where a preview image came from.
type PreviewSource string

const (
	PreviewIngested  PreviewSource = "INGESTED"
	PreviewExtracted PreviewSource = "EXTRACTED"
	PreviewRendered  PreviewSource = "RENDERED"
	PreviewUploaded  PreviewSource = "UPLOADED"
)

// PreviewAsset is an image asset for a design. At most one per design has
// IsPrimary set.
type PreviewAsset struct {
	ID         string        `db:"id" json:"id"`
	DesignID   string        `db:"design_id" json:"design_id"`
	Source     PreviewSource `db:"source" json:"source"`
	FilePath   string        `db:"file_path" json:"file_path"`
	Width      int           `db:"width" json:"width"`
	Height     int           `db:"height" json:"height"`
	IsPrimary  bool          `db:"is_primary" json:"is_primary"`
	AISelected bool          `db:"ai_selected" json:"ai_selected"`
	SortOrder  int           `db:"sort_order" json:"sort_order"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// Setting is a JSON-encoded key/value row.
type Setting struct {
	Key       string          `db:"key" json:"key"`
	Value     json.RawMessage `db:"value" json:"value"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// NullString converts a *string to sql.NullString for ad-hoc queries.
func NullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// StrPtr returns a pointer to s, nil when s is empty. Convenient for the
// nullable text columns above.
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
