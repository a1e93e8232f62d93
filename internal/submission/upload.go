package submission

import (
	"fmt"
	"io"
	"path/filepath"

	"pubformatter/pkg/types"

	"github.com/gabriel-vasile/mimetype"
)

// DetectContentType sniffs the document content. Word documents are reported
// with their OOXML media type.
func DetectContentType(content []byte) string {
	return mimetype.Detect(content).String()
}

// ReadUpload reads at most limit bytes of a source document. A document larger
// than limit is rejected rather than truncated.
func ReadUpload(name string, r io.Reader, limit int64) (*types.UploadedFile, error) {
	content, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("upload exceeds %d bytes", limit)
	}

	return &types.UploadedFile{
		Name:        filepath.Base(name),
		ContentType: DetectContentType(content),
		Content:     content,
	}, nil
}
