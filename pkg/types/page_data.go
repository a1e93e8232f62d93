package types

type BasePageData struct {
	Title string
}

type FormPageData struct {
	BasePageData
	Notice      string
	Error       string
	FieldErrors map[string]string

	// FailureCategory labels the failed submission, if any
	FailureCategory string

	Form      SubmissionForm
	DOIPrefix string
	Policy    string
	UI        UIState

	// DownloadURL is set when a generated document is waiting to be saved
	DownloadURL string
}

// FieldError returns the error message for a field, if any.
func (d *FormPageData) FieldError(name string) string {
	if d.FieldErrors == nil {
		return ""
	}
	return d.FieldErrors[name]
}
