package exporter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/objectstore"
)

type putCall struct {
	bucket, key, contentType string
	data                     []byte
}

type fakeStore struct {
	puts []putCall
	err  error
}

func (f *fakeStore) Get(ctx context.Context, bucket, key string) (io.ReadCloser, objectstore.ObjectInfo, error) {
	return nil, objectstore.ObjectInfo{}, errors.New("not implemented")
}

func (f *fakeStore) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.puts = append(f.puts, putCall{bucket: bucket, key: key, contentType: contentType, data: data})
	return nil
}

func (f *fakeStore) Stat(ctx context.Context, bucket, key string) (objectstore.ObjectInfo, error) {
	return objectstore.ObjectInfo{}, errors.New("not implemented")
}

type probeEngine struct {
	format string
	err    error
}

func (p probeEngine) Convert(ctx context.Context, inputs []string, args []string, output string) error {
	return errors.New("not implemented")
}

func (p probeEngine) Identify(ctx context.Context, path string, format string) (string, error) {
	return p.format, p.err
}

func writeArtifact(t *testing.T, data string) domain.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.jpg")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile err=%v", err)
	}
	return domain.Artifact{Path: path}
}

func TestExportBuffer(t *testing.T) {
	w := NewWriter(nil, probeEngine{format: "JPEG"}, "outputs", "us-east-1")
	artifact := writeArtifact(t, "jpeg-bytes")

	result, err := w.Export(context.Background(), artifact, domain.Step{Op: domain.OpExport, Src: "t2", As: "jpg"}, nil)
	if err != nil {
		t.Fatalf("Export() err=%v", err)
	}
	if result.Object != nil {
		t.Fatalf("Object=%+v want nil", result.Object)
	}
	if string(result.Buffer) != "jpeg-bytes" {
		t.Fatalf("Buffer=%q", result.Buffer)
	}
	if result.ContentType != "image/jpeg" {
		t.Fatalf("ContentType=%q", result.ContentType)
	}
	if result.Size != int64(len("jpeg-bytes")) {
		t.Fatalf("Size=%d", result.Size)
	}
}

func TestExportObjectStore(t *testing.T) {
	store := &fakeStore{}
	w := NewWriter(store, probeEngine{format: "PNG"}, "outputs", "us-east-1")
	artifact := writeArtifact(t, "png-bytes")

	step := domain.Step{Op: domain.OpExport, Src: "t2", Key: "renders/${sku}/final.png"}
	params := map[string]any{"sku": "A-100"}
	result, err := w.Export(context.Background(), artifact, step, params)
	if err != nil {
		t.Fatalf("Export() err=%v", err)
	}
	if result.Object == nil {
		t.Fatalf("missing object ref")
	}
	if result.Object.Bucket != "outputs" || result.Object.Key != "renders/A-100/final.png" {
		t.Fatalf("Object=%+v", result.Object)
	}
	if result.Buffer != nil {
		t.Fatalf("buffer should be empty for object-store export")
	}
	if len(store.puts) != 1 {
		t.Fatalf("puts=%d want 1", len(store.puts))
	}
	put := store.puts[0]
	if put.contentType != "image/png" || string(put.data) != "png-bytes" {
		t.Fatalf("put=%+v", put)
	}
}

func TestExportContentTypeResolution(t *testing.T) {
	artifact := writeArtifact(t, "x")

	explicit := NewWriter(nil, probeEngine{format: "PNG"}, "outputs", "")
	result, err := explicit.Export(context.Background(), artifact, domain.Step{Op: domain.OpExport, Src: "a", ContentType: "image/custom"}, nil)
	if err != nil {
		t.Fatalf("Export() err=%v", err)
	}
	if result.ContentType != "image/custom" {
		t.Fatalf("ContentType=%q want explicit override", result.ContentType)
	}

	unknown := NewWriter(nil, probeEngine{err: errors.New("probe failed")}, "outputs", "")
	result, err = unknown.Export(context.Background(), artifact, domain.Step{Op: domain.OpExport, Src: "a"}, nil)
	if err != nil {
		t.Fatalf("Export() err=%v", err)
	}
	if result.ContentType != "application/octet-stream" {
		t.Fatalf("ContentType=%q want fallback", result.ContentType)
	}
}

func TestExportPutFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("access denied")}
	w := NewWriter(store, probeEngine{format: "PNG"}, "outputs", "")
	artifact := writeArtifact(t, "x")

	_, err := w.Export(context.Background(), artifact, domain.Step{Op: domain.OpExport, Src: "a", Key: "k"}, nil)
	var exportErr *domain.ExportError
	if !errors.As(err, &exportErr) {
		t.Fatalf("err=%v want ExportError", err)
	}
	if exportErr.Destination != "s3://outputs/k" {
		t.Fatalf("Destination=%q", exportErr.Destination)
	}
}
