package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pubformatter/internal/processor"
	"pubformatter/internal/storage"
	"pubformatter/internal/submission"
	"pubformatter/internal/utils"
	"pubformatter/pkg/types"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/k0kubun/pp/v3"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// field flags share their names with the form fields, except the DOI which
// is exposed as --doi
var fieldFlags = map[string]string{
	"journal_name":         "Journal name",
	"volume_details":       "Volume and issue details",
	"paper_received":       "Date the paper was received (YYYY-MM-DD)",
	"paper_accepted":       "Date the paper was accepted (YYYY-MM-DD)",
	"paper_published":      "Date the paper was published (YYYY-MM-DD)",
	"author_name":          "Author name(s)",
	"corresponding_author": "Corresponding author",
	"email":                "Corresponding author email",
	"doi":                  "DOI suffix, 9 digits appended to " + types.DOIPrefix,
	"footer_text":          "Footer text",
}

var submitCommand = &cli.Command{
	Name:      "submit",
	Usage:     "Send a document and its metadata to the processing service and save the formatted result",
	ArgsUsage: " ",
	Flags:     submitFlags(),
	Action:    submit,
}

func submitFlags() []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "metadata",
			Aliases: []string{"m"},
			Usage:   "YAML file with the publication metadata",
		},
		&cli.StringFlag{
			Name:     "file",
			Aliases:  []string{"f"},
			Usage:    "Source document to format",
			Required: true,
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Where to write the formatted document",
			Value:   types.DownloadFilename,
		},
		&cli.BoolFlag{
			Name:  "no-input",
			Usage: "Fail instead of prompting for missing fields",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "Build and print the request without sending it",
		},
	}

	for _, field := range (&types.SubmissionForm{}).Fields() {
		name := flagName(field.Name)
		flags = append(flags, &cli.StringFlag{Name: name, Usage: fieldFlags[name]})
	}

	return flags
}

func flagName(field string) string {
	if field == "doiNumber" {
		return "doi"
	}
	return field
}

func submit(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	config, err := loadConfig(cCtx.String("env-prefix"))
	if err != nil {
		return cli.Exit(err, ExitSubmitError)
	}

	logger := newLogger(config)
	logger.SetFormatter(&logrus.TextFormatter{})

	form, err := loadMetadata(cCtx.String("metadata"))
	if err != nil {
		return cli.Exit(err, ExitSubmitError)
	}
	applyFieldFlags(cCtx, form)

	if missing := missingFields(form); len(missing) > 0 {
		if cCtx.Bool("no-input") {
			return cli.Exit(fmt.Sprintf("missing fields: %s", strings.Join(missing, ", ")), ExitSubmitError)
		}
		if err := promptMissing(form, askSurvey); err != nil {
			return cli.Exit(err, ExitSubmitError)
		}
	}

	source, err := os.Open(cCtx.String("file"))
	if err != nil {
		return cli.Exit(fmt.Errorf("open source document: %w", err), ExitSubmitError)
	}
	defer source.Close()

	form.File, err = submission.ReadUpload(source.Name(), source, config.MaxUploadMB<<20)
	if err != nil {
		return cli.Exit(err, ExitSubmitError)
	}

	if cCtx.Bool("dry-run") {
		return printPayload(form)
	}

	workDir, err := os.MkdirTemp("", "pubformatter-*")
	if err != nil {
		return cli.Exit(err, ExitSubmitError)
	}
	defer os.RemoveAll(workDir)

	client := processor.NewClient(
		config.ProcessorURL,
		logger,
		processor.WithTimeout(time.Duration(config.ProcessorTimeoutSec)*time.Second),
	)

	wf := submission.New(submission.Config{
		SessionID: utils.NanoID(),
		Policy:    submission.PolicyAuto,
		HandleTTL: handleTTL(config),
	}, client, storage.NewLocalStorage(workDir, logger), submission.NopRecorder{}, logger)
	defer wf.Close(context.WithoutCancel(ctx))

	handle, err := wf.Submit(ctx, form)
	if err != nil {
		return submitExit(err)
	}

	out, err := os.Create(cCtx.String("output"))
	if err != nil {
		return cli.Exit(fmt.Errorf("create output: %w", err), ExitSubmitError)
	}

	_, err = wf.Download(ctx, handle.ID, out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return cli.Exit(fmt.Errorf("write output: %w", err), ExitSubmitError)
	}

	logger.WithFields(logrus.Fields{
		"output": out.Name(),
		"bytes":  handle.Size,
	}).Info("formatted document saved")

	return nil
}

func loadMetadata(path string) (*types.SubmissionForm, error) {
	form := new(types.SubmissionForm)
	if path == "" {
		return form, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	if err := yaml.Unmarshal(data, form); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", path, err)
	}

	return form, nil
}

// applyFieldFlags overrides metadata values with the flags given explicitly
func applyFieldFlags(cCtx *cli.Context, form *types.SubmissionForm) {
	for name, target := range formTargets(form) {
		if flag := flagName(name); cCtx.IsSet(flag) {
			*target = cCtx.String(flag)
		}
	}
}

func formTargets(form *types.SubmissionForm) map[string]*string {
	return map[string]*string{
		"journal_name":         &form.JournalName,
		"volume_details":       &form.VolumeDetails,
		"paper_received":       &form.PaperReceived,
		"paper_accepted":       &form.PaperAccepted,
		"paper_published":      &form.PaperPublished,
		"author_name":          &form.AuthorName,
		"corresponding_author": &form.CorrespondingAuthor,
		"email":                &form.Email,
		"doiNumber":            &form.DOINumber,
		"footer_text":          &form.FooterText,
	}
}

// missingFields lists blank fields in form order
func missingFields(form *types.SubmissionForm) []string {
	var missing []string
	for _, field := range form.Fields() {
		if strings.TrimSpace(field.Value) == "" {
			missing = append(missing, field.Name)
		}
	}
	return missing
}

type asker func(message, help string, validate survey.Validator) (string, error)

func askSurvey(message, help string, validate survey.Validator) (string, error) {
	var out string
	err := survey.AskOne(&survey.Input{Message: message, Help: help}, &out, survey.WithValidator(validate))
	if errors.Is(err, terminal.InterruptErr) {
		return "", errors.New("aborted")
	}
	return out, err
}

// promptMissing asks for every blank field. The DOI answer is checked the
// same way a submission checks it.
func promptMissing(form *types.SubmissionForm, ask asker) error {
	targets := formTargets(form)

	for _, name := range missingFields(form) {
		validate := survey.Required
		if name == "doiNumber" {
			validate = validateDoiAnswer
		}

		flag := flagName(name)
		answer, err := ask(fmt.Sprintf("%s:", fieldFlags[flag]), "can also be given with --"+flag, validate)
		if err != nil {
			return err
		}
		*targets[name] = strings.TrimSpace(answer)
	}

	return nil
}

func validateDoiAnswer(ans any) error {
	s, _ := ans.(string)
	if _, err := submission.Validate(strings.TrimSpace(s)); err != nil {
		return errors.New(types.FailureInvalidDoiFormat.Message())
	}
	return nil
}

func printPayload(form *types.SubmissionForm) error {
	suffix, err := submission.Validate(form.DOINumber)
	if err != nil {
		return submitExit(err)
	}

	payload, err := submission.BuildPayload(form, suffix.Compose())
	if err != nil {
		return cli.Exit(err, ExitSubmitError)
	}

	pp.Println(map[string]any{
		"doi":          suffix.Compose(),
		"content_type": payload.ContentType,
		"parts":        payload.Parts,
		"bytes":        len(payload.Body),
		"file":         form.File.Name,
		"file_type":    form.File.ContentType,
	})

	return nil
}

// submitExit maps a submission failure onto its exit code
func submitExit(err error) error {
	category := types.FailureCategoryOf(err)

	code := ExitSubmitError
	switch category {
	case types.FailureInvalidDoiFormat:
		code = ExitSubmitInvalidDoi
	case types.FailureBackend:
		code = ExitSubmitBackend
	case types.FailureTransport:
		code = ExitSubmitTransport
	}

	if category == "" {
		return cli.Exit(err, code)
	}

	return cli.Exit(fmt.Sprintf("%s: %v", category.Message(), err), code)
}
