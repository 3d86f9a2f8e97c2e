package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/sakif/linkblocks/internal/apperror"
	"github.com/sakif/linkblocks/internal/attachment"
)

const (
	// maxImageBytes is the largest single image part accepted before
	// compression.
	maxImageBytes = 10 << 20
	maxFieldBytes = 4 << 10
)

// readFilePart reads an image part into memory. The content type comes from
// the part header and falls back to sniffing.
func readFilePart(part *multipart.Part) (*attachment.File, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(part, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", part.FileName(), err)
	}
	if n > maxImageBytes {
		return nil, apperror.ValidationFailed(part.FormName(), fmt.Sprintf("%s is larger than %d MB", part.FileName(), maxImageBytes>>20))
	}
	if n == 0 {
		return nil, apperror.ValidationFailed(part.FormName(), fmt.Sprintf("%s is empty", part.FileName()))
	}

	contentType := part.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(buf.Bytes())
	}
	if !strings.HasPrefix(contentType, "image/") {
		return nil, apperror.ValidationFailed(part.FormName(), fmt.Sprintf("%s is not an image", part.FileName()))
	}

	return &attachment.File{Name: part.FileName(), ContentType: contentType, Data: buf.Bytes()}, nil
}

func readFieldPart(part *multipart.Part) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading field %s: %w", part.FormName(), err)
	}
	if len(b) > maxFieldBytes {
		return "", apperror.ValidationFailed(part.FormName(), part.FormName()+" is too long")
	}
	return string(b), nil
}

// multipartReader wraps r.MultipartReader with a body limit and maps a
// non-multipart request to a validation error.
func multipartReader(w http.ResponseWriter, r *http.Request, limit int64) (*multipart.Reader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, apperror.ValidationFailed("body", "expected a multipart/form-data body")
	}
	return mr, nil
}

// isBodyTooLarge reports whether err came from http.MaxBytesReader.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
