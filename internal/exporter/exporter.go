// Package exporter delivers finished artifacts: into the response as a byte
// buffer, or into object storage when the export step names a key.
package exporter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
	"github.com/rasterflow-labs/rasterflow-go/internal/magick"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/objectstore"
)

const fallbackContentType = "application/octet-stream"

// contentTypes maps the engine's format probe answers to MIME types.
var contentTypes = map[string]string{
	"JPEG": "image/jpeg",
	"JPG":  "image/jpeg",
	"PNG":  "image/png",
	"WEBP": "image/webp",
	"TIFF": "image/tiff",
	"TIF":  "image/tiff",
	"GIF":  "image/gif",
	"BMP":  "image/bmp",
}

type Writer struct {
	store         objectstore.Store
	engine        magick.Engine
	defaultBucket string
	region        string
}

func NewWriter(store objectstore.Store, eng magick.Engine, defaultBucket, region string) *Writer {
	return &Writer{store: store, engine: eng, defaultBucket: defaultBucket, region: region}
}

// Export reads the artifact and delivers it. A step with a key goes to object
// storage (bucket falls back to the configured default); otherwise the bytes
// travel back in the result buffer. Template placeholders in the key are
// substituted against the run's params.
func (w *Writer) Export(ctx context.Context, artifact domain.Artifact, step domain.Step, params map[string]any) (domain.ExportResult, error) {
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return domain.ExportResult{}, &domain.ExportError{Err: err}
	}

	contentType := w.resolveContentType(ctx, artifact.Path, step)

	key := strings.TrimSpace(step.Key)
	if key == "" {
		return domain.ExportResult{
			Buffer:      data,
			ContentType: contentType,
			Size:        int64(len(data)),
		}, nil
	}

	key = domain.SubstituteParams(key, params)
	bucket := strings.TrimSpace(step.Bucket)
	if bucket == "" {
		bucket = w.defaultBucket
	}
	region := strings.TrimSpace(step.Region)
	if region == "" {
		region = w.region
	}

	destination := fmt.Sprintf("s3://%s/%s", bucket, key)
	if w.store == nil {
		return domain.ExportResult{}, &domain.ExportError{Destination: destination, Err: fmt.Errorf("object store not configured")}
	}
	if err := w.store.Put(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return domain.ExportResult{}, &domain.ExportError{Destination: destination, Err: err}
	}

	return domain.ExportResult{
		Object:      &domain.ObjectRef{Bucket: bucket, Key: key, Region: region},
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

// resolveContentType prefers the step's explicit override, then the engine's
// format probe, then a generic binary default.
func (w *Writer) resolveContentType(ctx context.Context, path string, step domain.Step) string {
	if ct := strings.TrimSpace(step.ContentType); ct != "" {
		return ct
	}
	if w.engine != nil {
		if format, err := w.engine.Identify(ctx, path, "%m"); err == nil {
			if ct, ok := contentTypes[strings.ToUpper(strings.TrimSpace(format))]; ok {
				return ct
			}
		}
	}
	return fallbackContentType
}
