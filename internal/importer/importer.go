// Package importer materializes declared pipeline inputs as local files the
// raster engine can open.
package importer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/rasterflow-labs/rasterflow-go/internal/domain"
	"github.com/rasterflow-labs/rasterflow-go/internal/platform/objectstore"
)

// maxInputBytes bounds a single imported image.
const maxInputBytes = 256 << 20

type Resolver struct {
	client *http.Client
	store  objectstore.Store
}

func NewResolver(client *http.Client, store objectstore.Store) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &Resolver{client: client, store: store}
}

// Resolve fetches one input into dir and returns the local artifact. The
// source filename extension is preserved when deducible, since the engine
// selects some codecs by extension.
func (r *Resolver) Resolve(ctx context.Context, dir string, name string, spec domain.InputSpec) (domain.Artifact, error) {
	var (
		body io.Reader
		ext  string
		err  error
	)

	switch spec.Kind() {
	case domain.InputURL:
		var rc io.ReadCloser
		rc, ext, err = r.fetchURL(ctx, spec.URL)
		if err != nil {
			return domain.Artifact{}, &domain.ImportError{Input: name, Err: err}
		}
		defer rc.Close()
		body = rc
	case domain.InputObjectStore:
		if r.store == nil {
			return domain.Artifact{}, &domain.ImportError{Input: name, Err: errors.New("object store not configured")}
		}
		rc, _, getErr := r.store.Get(ctx, spec.Bucket, spec.Key)
		if getErr != nil {
			return domain.Artifact{}, &domain.ImportError{Input: name, Err: getErr}
		}
		defer rc.Close()
		body = rc
		ext = path.Ext(spec.Key)
	case domain.InputInline:
		decoded, decErr := base64.StdEncoding.DecodeString(spec.Data)
		if decErr != nil {
			return domain.Artifact{}, &domain.ImportError{Input: name, Err: fmt.Errorf("decode inline payload: %w", decErr)}
		}
		body = bytes.NewReader(decoded)
		ext = path.Ext(spec.Filename)
	case domain.InputMultipart:
		if len(spec.Bytes) == 0 {
			return domain.Artifact{}, &domain.ImportError{Input: name, Err: fmt.Errorf("multipart field %q carries no payload", spec.Field)}
		}
		body = bytes.NewReader(spec.Bytes)
		ext = path.Ext(spec.Filename)
	default:
		return domain.Artifact{}, &domain.ImportError{Input: name, Err: fmt.Errorf("input kind %q is not recognized", spec.Type)}
	}

	artifact, err := writeArtifact(dir, name, ext, body)
	if err != nil {
		return domain.Artifact{}, &domain.ImportError{Input: name, Err: err}
	}
	return artifact, nil
}

func (r *Resolver) fetchURL(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
	}
	return resp.Body, urlExt(rawURL), nil
}

func writeArtifact(dir, name, ext string, body io.Reader) (domain.Artifact, error) {
	f, err := os.CreateTemp(dir, "in-"+name+"-*"+ext)
	if err != nil {
		return domain.Artifact{}, err
	}
	written, err := io.Copy(f, io.LimitReader(body, maxInputBytes+1))
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && written > maxInputBytes {
		err = fmt.Errorf("input exceeds %d bytes", maxInputBytes)
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return domain.Artifact{}, err
	}
	path := f.Name()
	return domain.Artifact{
		Path: path,
		Release: func() error {
			err := os.Remove(path)
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		},
	}, nil
}

func urlExt(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return path.Ext(parsed.Path)
}
