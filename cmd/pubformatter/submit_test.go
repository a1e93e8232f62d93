package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pubformatter/pkg/types"

	"github.com/AlecAivazis/survey/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestLoadMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
journal_name: Cosmos Journal
volume_details: Vol 3, Issue 2
author_name: A. Author
doi_number: "123456789"
`), 0o600))

	form, err := loadMetadata(path)
	require.NoError(t, err)

	assert.Equal(t, "Cosmos Journal", form.JournalName)
	assert.Equal(t, "Vol 3, Issue 2", form.VolumeDetails)
	assert.Equal(t, "A. Author", form.AuthorName)
	assert.Equal(t, "123456789", form.DOINumber)
	assert.Empty(t, form.FooterText)
}

func TestLoadMetadataEmptyPath(t *testing.T) {
	form, err := loadMetadata("")
	require.NoError(t, err)
	assert.Equal(t, &types.SubmissionForm{}, form)
}

func TestLoadMetadataInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.yaml")
	require.NoError(t, os.WriteFile(path, []byte("journal_name: [unterminated"), 0o600))

	_, err := loadMetadata(path)
	assert.Error(t, err)
}

func TestMissingFieldsInFormOrder(t *testing.T) {
	form := &types.SubmissionForm{
		JournalName: "Cosmos Journal",
		Email:       "a@example.com",
		FooterText:  "  ",
	}

	assert.Equal(t, []string{
		"volume_details",
		"paper_received",
		"paper_accepted",
		"paper_published",
		"author_name",
		"corresponding_author",
		"doiNumber",
		"footer_text",
	}, missingFields(form))
}

func TestPromptMissing(t *testing.T) {
	form := &types.SubmissionForm{
		JournalName:         "Cosmos Journal",
		VolumeDetails:       "Vol 1",
		PaperReceived:       "2024-01-01",
		PaperAccepted:       "2024-02-01",
		PaperPublished:      "2024-03-01",
		AuthorName:          "A. Author",
		CorrespondingAuthor: "A. Author",
		Email:               "a@example.com",
	}

	var asked []string
	ask := func(message, help string, validate survey.Validator) (string, error) {
		asked = append(asked, help)
		if help == "can also be given with --doi" {
			assert.Error(t, validate("12345"))
			assert.NoError(t, validate("123456789"))
			return " 123456789 ", nil
		}
		return "Footer", nil
	}

	require.NoError(t, promptMissing(form, ask))

	assert.Equal(t, []string{"can also be given with --doi", "can also be given with --footer_text"}, asked)
	assert.Equal(t, "123456789", form.DOINumber)
	assert.Equal(t, "Footer", form.FooterText)
}

func TestPromptMissingStopsOnError(t *testing.T) {
	form := &types.SubmissionForm{}
	aborted := errors.New("aborted")

	calls := 0
	err := promptMissing(form, func(string, string, survey.Validator) (string, error) {
		calls++
		return "", aborted
	})

	assert.ErrorIs(t, err, aborted)
	assert.Equal(t, 1, calls)
}

func TestValidateDoiAnswer(t *testing.T) {
	assert.NoError(t, validateDoiAnswer("000000001"))
	assert.EqualError(t, validateDoiAnswer("12345678a"), "DOI must be 9 digits")
	assert.Error(t, validateDoiAnswer(42))
}

func TestSubmitExitCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid doi", types.ErrInvalidDoiFormat, ExitSubmitInvalidDoi},
		{"backend", &types.BackendError{StatusCode: 500}, ExitSubmitBackend},
		{"transport", types.ErrTransport, ExitSubmitTransport},
		{"other", errors.New("disk full"), ExitSubmitError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var exitErr cli.ExitCoder
			require.ErrorAs(t, submitExit(tt.err), &exitErr)
			assert.Equal(t, tt.code, exitErr.ExitCode())
		})
	}
}

func TestFieldFlagsCoverForm(t *testing.T) {
	for _, field := range (&types.SubmissionForm{}).Fields() {
		assert.Contains(t, fieldFlags, flagName(field.Name))
		assert.Contains(t, formTargets(&types.SubmissionForm{}), field.Name)
	}
}

func TestHistoryLine(t *testing.T) {
	category := string(types.FailureBackend)
	code := 502
	created := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)

	line := historyLine(&types.Submission{
		ID:              "sub1",
		Status:          types.SubmissionStatusFailed,
		DOI:             types.DOIPrefix + "123456789",
		SourceFileName:  "paper.docx",
		FailureCategory: &category,
		StatusCode:      &code,
		CreatedAt:       created,
	})

	assert.Equal(t, "2024-05-01 09:30:00  sub1  FAILED      doi:10.46360/cosmos.ahe.123456789  paper.docx  BackendError (502)", line)
}
