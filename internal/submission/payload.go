package submission

import (
	"bytes"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"pubformatter/pkg/types"
)

const (
	filePartName = "file"
	doiPartName  = "doi"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// BuildPayload encodes every form field, the source document and the composed
// DOI as a multipart body. Text fields are written verbatim in form order, the
// file follows them and the doi part is written last.
func BuildPayload(form *types.SubmissionForm, doi types.ComposedDoi) (*types.RequestPayload, error) {
	if form == nil {
		return nil, errors.New("form is nil")
	}
	if form.File == nil {
		return nil, errors.New("file is required")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := form.Fields()
	parts := make([]string, 0, len(fields)+2)

	for _, field := range fields {
		if err := mw.WriteField(field.Name, field.Value); err != nil {
			return nil, fmt.Errorf("write field %s: %w", field.Name, err)
		}
		parts = append(parts, field.Name)
	}

	contentType := form.File.ContentType
	if contentType == "" {
		contentType = DetectContentType(form.File.Content)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		filePartName, quoteEscaper.Replace(form.File.Name)))
	header.Set("Content-Type", contentType)

	fw, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(form.File.Content); err != nil {
		return nil, fmt.Errorf("write file part: %w", err)
	}
	parts = append(parts, filePartName)

	if err := mw.WriteField(doiPartName, string(doi)); err != nil {
		return nil, fmt.Errorf("write field %s: %w", doiPartName, err)
	}
	parts = append(parts, doiPartName)

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	return &types.RequestPayload{
		Body:        body.Bytes(),
		ContentType: mw.FormDataContentType(),
		Parts:       parts,
	}, nil
}
