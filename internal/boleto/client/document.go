package client

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"

	"github.com/detectabb/boleto-gateway/internal/boleto/domain"
)

var validate = validator.New()

// Document is a boleto file ready for upload
type Document struct {
	FileName string          `validate:"required,max=255"`
	Content  []byte          `validate:"min=1"`
	FileType domain.FileType `validate:"oneof=image/jpeg image/png application/pdf"`
}

// NewDocument sniffs the content type and builds a Document. Files that are
// not JPEG, PNG or PDF are rejected before anything is sent.
func NewDocument(fileName string, content []byte) (*Document, error) {
	fileType, err := DetectFileType(content)
	if err != nil {
		return nil, err
	}

	doc := &Document{
		FileName: fileName,
		Content:  content,
		FileType: fileType,
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// Validate checks the document against the service's upload rules.
func (d *Document) Validate() error {
	if d == nil {
		return fmt.Errorf("invalid document: nil")
	}
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	return nil
}

// Zero overwrites the file bytes once they are no longer needed.
func (d *Document) Zero() {
	for i := range d.Content {
		d.Content[i] = 0
	}
}

// ErrUnsupportedFileType is returned for uploads that are not JPEG, PNG or PDF
var ErrUnsupportedFileType = errors.New("unsupported file type")

// DetectFileType identifies the content by its magic bytes, ignoring any
// client-declared type or extension.
func DetectFileType(content []byte) (domain.FileType, error) {
	mtype := mimetype.Detect(content)
	for _, t := range []domain.FileType{domain.FileTypeJPEG, domain.FileTypePNG, domain.FileTypePDF} {
		if mtype.Is(string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, mtype.String())
}
