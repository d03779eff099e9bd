package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"costlens/internal/filter"
	"costlens/internal/ingest"
)

const (
	// UploadField is the multipart field carrying report files.
	UploadField = "files"

	maxJSONBodyBytes     = 64 << 10
	multipartMemoryBytes = 8 << 20
)

var (
	ErrNoFiles     = errors.New("no files uploaded")
	ErrBodyTooBig  = errors.New("request body too large")
	ErrInvalidBody = errors.New("invalid request body")
)

// decodeJSON reads one JSON object into v, rejecting unknown fields and
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return ErrBodyTooBig
		}
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data", ErrInvalidBody)
	}
	return nil
}

// parseUploads reads a multipart batch capped at maxBytes. The returned
// form must be released with RemoveAll once the sources are consumed.
func parseUploads(w http.ResponseWriter, r *http.Request, maxBytes int64) ([]ingest.Source, *multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(multipartMemoryBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, nil, ErrBodyTooBig
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	form := r.MultipartForm
	headers := form.File[UploadField]
	if len(headers) == 0 {
		_ = form.RemoveAll()
		return nil, nil, ErrNoFiles
	}
	sources := make([]ingest.Source, 0, len(headers))
	for _, fh := range headers {
		sources = append(sources, ingest.Source{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) { return fh.Open() },
		})
	}
	return sources, form, nil
}

// dimensionParam reads the {dimension} path segment.
func dimensionParam(r *http.Request) (filter.Dimension, error) {
	return filter.ParseDimension(r.PathValue("dimension"))
}

type toggleRequest struct {
	Key string `json:"key"`
}

type searchRequest struct {
	Query string `json:"query"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (t toggleRequest) validate() error {
	if strings.TrimSpace(t.Key) == "" {
		return fmt.Errorf("%w: key is required", ErrInvalidBody)
	}
	return nil
}
