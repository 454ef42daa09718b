package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/platecheck/internal/images"
	"github.com/lehigh-university-libraries/platecheck/internal/observability"
)

var (
	errTooLarge   = errors.New("payload too large")
	errNoPayload  = errors.New("payload is missing")
	errNotAnImage = errors.New("payload is not an image")
)

// payload is binary content (image or audio) read from a request.
type payload struct {
	Data     []byte
	MIMEType string
}

// readPayload accepts either a multipart upload under field or a JSON body with a
// base64 field, an optional mimeType and, for images, an imageUrl. The size limit applies to the decoded bytes.
func (h *Handler) readPayload(w http.ResponseWriter, r *http.Request, field string, limit int64) (*payload, error) {
	// base64 inflates by 4/3, leave room for that and form overhead
	r.Body = http.MaxBytesReader(w, r.Body, limit*2+64*1024)

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		return h.readJSONPayload(r, field, limit)
	}
	return readMultipartPayload(r, field, limit)
}

func readMultipartPayload(r *http.Request, field string, limit int64) (*payload, error) {
	file, header, err := r.FormFile(field)
	if err != nil {
		file, header, err = r.FormFile("file")
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				return nil, errTooLarge
			}
			return nil, fmt.Errorf("%w: %v", errNoPayload, err)
		}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return &payload{Data: data, MIMEType: mimeType}, nil
}

// jsonPayload is the JSON upload body. Unknown fields are ignored.
type jsonPayload struct {
	Image    string `json:"image"`
	ImageURL string `json:"imageUrl"`
	Audio    string `json:"audio"`
	MIMEType string `json:"mimeType"`
}

func (h *Handler) readJSONPayload(r *http.Request, field string, limit int64) (*payload, error) {
	var request jsonPayload
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, errTooLarge
		}
		return nil, fmt.Errorf("%w: invalid JSON: %v", errNoPayload, err)
	}

	encoded := request.Audio
	if field == "image" {
		encoded = request.Image
		if encoded == "" && request.ImageURL != "" {
			return downloadPayload(r.Context(), request.ImageURL, limit, h.limits.AllowPrivateImageHosts)
		}
	}
	if encoded == "" {
		return nil, fmt.Errorf("%w: %s is required", errNoPayload, field)
	}
	// tolerate data URIs from browsers
	mimeType := request.MIMEType
	if strings.HasPrefix(encoded, "data:") {
		if idx := strings.Index(encoded, ","); idx != -1 {
			if mimeType == "" {
				mimeType = strings.TrimSuffix(strings.TrimPrefix(encoded[:idx], "data:"), ";base64")
			}
			encoded = encoded[idx+1:]
		}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not valid base64", errNoPayload, field)
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &payload{Data: data, MIMEType: mimeType}, nil
}

func downloadPayload(ctx context.Context, url string, limit int64, allowPrivate bool) (*payload, error) {
	if !images.IsURL(url) {
		return nil, fmt.Errorf("%w: invalid url %q", errNoPayload, url)
	}
	fetcher := images.NewFetcher(limit)
	fetcher.AllowPrivate = allowPrivate
	img, err := fetcher.Fetch(ctx, url)
	if err != nil {
		if errors.Is(err, images.ErrTooLarge) {
			return nil, errTooLarge
		}
		return nil, err
	}
	return &payload{Data: img.Data, MIMEType: img.MIMEType}, nil
}

// checkImage rejects payloads that are clearly not images and logs dimensions when decodable.
func checkImage(ctx context.Context, p *payload) error {
	if !strings.HasPrefix(p.MIMEType, "image/") {
		return errNotAnImage
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil {
		// HEIC/WebP have no stdlib decoder; the model still accepts them
		observability.LoggerFromContext(ctx).Debug("Unable to read image dimensions", "mime_type", p.MIMEType, "err", err)
		return nil
	}
	observability.LoggerFromContext(ctx).Info("Image received", "format", format, "width", cfg.Width, "height", cfg.Height, "bytes", len(p.Data))
	return nil
}

// writePayloadError maps readPayload errors to the envelope.
func writePayloadError(w http.ResponseWriter, r *http.Request, err error, limit int64) {
	switch {
	case errors.Is(err, errTooLarge):
		writeError(w, r, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
			fmt.Sprintf("File too large (max %dMB)", limit>>20), "")
	case errors.Is(err, images.ErrForbiddenHost):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "The image URL must point to a public host.", err.Error())
	case errors.Is(err, errNoPayload), errors.Is(err, errNotAnImage):
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "The uploaded file could not be used.", err.Error())
	default:
		writeError(w, r, http.StatusBadRequest, codeInvalidRequest, "The uploaded file could not be read.", err.Error())
	}
}
