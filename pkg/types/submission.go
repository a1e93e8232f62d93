package types

import "time"

const (
	DOIPrefix        = "doi:10.46360/cosmos.ahe."
	DownloadFilename = "formatted_publication.docx"
	DocxContentType  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// SubmissionForm holds the publication metadata collected by the form.
// Field order is the order parts are written to the outgoing payload.
type SubmissionForm struct {
	JournalName         string `form:"journal_name" yaml:"journal_name"`
	VolumeDetails       string `form:"volume_details" yaml:"volume_details"`
	PaperReceived       string `form:"paper_received" yaml:"paper_received"`
	PaperAccepted       string `form:"paper_accepted" yaml:"paper_accepted"`
	PaperPublished      string `form:"paper_published" yaml:"paper_published"`
	AuthorName          string `form:"author_name" yaml:"author_name"`
	CorrespondingAuthor string `form:"corresponding_author" yaml:"corresponding_author"`
	Email               string `form:"email" yaml:"email"`
	DOINumber           string `form:"doiNumber" yaml:"doi_number"`
	FooterText          string `form:"footer_text" yaml:"footer_text"`

	File *UploadedFile `form:"-" yaml:"-"`
}

type FormField struct {
	Name  string
	Value string
}

// Fields returns the text fields in payload order. The file part is not
// included.
func (f *SubmissionForm) Fields() []FormField {
	return []FormField{
		{Name: "journal_name", Value: f.JournalName},
		{Name: "volume_details", Value: f.VolumeDetails},
		{Name: "paper_received", Value: f.PaperReceived},
		{Name: "paper_accepted", Value: f.PaperAccepted},
		{Name: "paper_published", Value: f.PaperPublished},
		{Name: "author_name", Value: f.AuthorName},
		{Name: "corresponding_author", Value: f.CorrespondingAuthor},
		{Name: "email", Value: f.Email},
		{Name: "doiNumber", Value: f.DOINumber},
		{Name: "footer_text", Value: f.FooterText},
	}
}

// UploadedFile is the source document attached to a submission.
type UploadedFile struct {
	Name        string
	ContentType string
	Content     []byte
}

// DoiSuffix is a validated 9 digit DOI suffix.
type DoiSuffix string

// ComposedDoi is the full DOI sent to the processing service.
type ComposedDoi string

func (s DoiSuffix) Compose() ComposedDoi {
	return ComposedDoi(DOIPrefix + string(s))
}

// RequestPayload is an encoded multipart body ready to be posted.
type RequestPayload struct {
	Body        []byte
	ContentType string
	// Parts lists the part names in the order they were written
	Parts []string
}

// DownloadHandle references a generated document held in handle storage.
type DownloadHandle struct {
	ID          string
	SessionID   string
	StorageKey  string
	Filename    string
	ContentType string
	Size        int64
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (h *DownloadHandle) Expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && !now.Before(h.ExpiresAt)
}

// UIState is the presentation snapshot of a submission workflow.
type UIState struct {
	State         string
	Loading       bool
	DownloadReady *DownloadHandle
	// CanReset is set while there is an outcome or a result to clear
	CanReset bool
}

type SubmissionStatus string

const (
	SubmissionStatusSubmitting SubmissionStatus = "SUBMITTING"
	SubmissionStatusSucceeded  SubmissionStatus = "SUCCEEDED"
	SubmissionStatusFailed     SubmissionStatus = "FAILED"
)

// Submission is the persisted record of one submission attempt that reached
// the processing service.
type Submission struct {
	ID               string           `db:"id"`
	SessionID        string           `db:"session_id"`
	JournalName      string           `db:"journal_name"`
	AuthorName       string           `db:"author_name"`
	Email            string           `db:"email"`
	DOI              string           `db:"doi"`
	SourceFileName   string           `db:"source_file_name"`
	Status           SubmissionStatus `db:"status"`
	FailureCategory  *string          `db:"failure_category"`
	StatusCode       *int             `db:"status_code"`
	HandleID         *string          `db:"handle_id"`
	StorageKey       *string          `db:"storage_key"`
	DocumentBytes    *int64           `db:"document_bytes"`
	CreatedAt        time.Time        `db:"created_at"`
	CompletedAt      *time.Time       `db:"completed_at"`
	HandleExpiresAt  *time.Time       `db:"handle_expires_at"`
	HandleReleasedAt *time.Time       `db:"handle_released_at"`
}
