package server

import (
	"html"
	"net/mail"
	"strings"
	"time"

	"pubformatter/internal/submission"
	"pubformatter/pkg/types"

	"github.com/microcosm-cc/bluemonday"
)

const dateLayout = "2006-01-02"

var (
	dateFields   = []string{"paper_received", "paper_accepted", "paper_published"}
	markupFields = []string{"journal_name", "author_name", "corresponding_author"}
)

// validateForm repeats the checks the browser performs so clients that skip
// them get the same answer. The DOI check is the workflow's own validation.
func validateForm(form *types.SubmissionForm, sanitizer *bluemonday.Policy) map[string]string {
	errs := make(map[string]string)

	values := make(map[string]string)
	for _, field := range form.Fields() {
		values[field.Name] = field.Value
		if !required(field.Value) {
			errs[field.Name] = "This field is required."
		}
	}

	if form.File == nil || len(form.File.Content) == 0 {
		errs["file"] = "Upload the document to format."
	}

	for _, name := range dateFields {
		if _, ok := errs[name]; ok {
			continue
		}
		if _, err := time.Parse(dateLayout, values[name]); err != nil {
			errs[name] = "Enter a date as YYYY-MM-DD."
		}
	}

	if _, ok := errs["email"]; !ok {
		addr, err := mail.ParseAddress(form.Email)
		if err != nil || addr.Address != form.Email {
			errs["email"] = "Enter a valid email address."
		}
	}

	if _, ok := errs["doiNumber"]; !ok {
		if _, err := submission.Validate(form.DOINumber); err != nil {
			errs["doiNumber"] = types.FailureCategoryOf(err).Message()
		}
	}

	for _, name := range markupFields {
		if _, ok := errs[name]; ok {
			continue
		}
		if !markupFree(sanitizer, values[name]) {
			errs[name] = "Remove the HTML markup from this field."
		}
	}

	return errs
}

// markupFree reports whether stripping every tag leaves v unchanged
func markupFree(sanitizer *bluemonday.Policy, v string) bool {
	return html.UnescapeString(sanitizer.Sanitize(v)) == v
}

func required(v string) bool {
	return strings.TrimSpace(v) != ""
}
