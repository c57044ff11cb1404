package crawler

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// AttemptSink archives the raw body of every fetch attempt.
type AttemptSink interface {
	SaveAttempt(ctx context.Context, name string, body []byte) (string, error)
}

// Workspace is the per-run temp directory holding raw bodies. It must be
// finalized with exactly one of Archive or Discard.
type Workspace struct {
	dir    string
	name   string
	logger *zap.Logger
}

// NewWorkspace creates root/{runTag}-{profileID}, wiping leftovers from an
// earlier run of the same profile.
func NewWorkspace(root, runTag, profileID string, logger *zap.Logger) (*Workspace, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := fmt.Sprintf("%s-%s", runTag, sanitizeName(profileID))
	dir := filepath.Join(root, name)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clean workspace %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir, name: name, logger: logger}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// SaveAttempt writes one raw body into the workspace.
func (w *Workspace) SaveAttempt(ctx context.Context, name string, body []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	target := filepath.Join(w.dir, sanitizeName(name))
	if err := os.WriteFile(target, body, 0o600); err != nil {
		return "", fmt.Errorf("writing body to %s: %w", target, err)
	}
	return target, nil
}

// ArchiveName returns {runTag}-{profileID}-{dateStamp}.zip.
func (w *Workspace) ArchiveName(at time.Time) string {
	return fmt.Sprintf("%s-%s.zip", w.name, at.UTC().Format("20060102T150405Z"))
}

// Archive zips the workspace into blobs under ArchiveName and removes the
// directory. The directory is removed even when the upload fails.
func (w *Workspace) Archive(ctx context.Context, blobs BlobStore, at time.Time) (string, error) {
	defer w.Discard()
	payload, err := w.zip()
	if err != nil {
		return "", err
	}
	uri, err := blobs.PutObject(ctx, w.ArchiveName(at), "application/zip", payload)
	if err != nil {
		return "", fmt.Errorf("put archive: %w", err)
	}
	return uri, nil
}

// Discard removes the workspace without archival.
func (w *Workspace) Discard() {
	if err := os.RemoveAll(w.dir); err != nil {
		w.logger.Warn("failed to remove workspace", zap.String("dir", w.dir), zap.Error(err))
	}
}

func (w *Workspace) zip() ([]byte, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read workspace: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		if err := addZipEntry(zw, filepath.Join(w.dir, name), name); err != nil {
			_ = zw.Close() //nolint:errcheck // already failing
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	return buf.Bytes(), nil
}

func addZipEntry(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path) //nolint:gosec // path is built from the workspace listing
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only
	dst, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create archive entry %s: %w", name, err)
	}
	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("copy archive entry %s: %w", name, err)
	}
	return nil
}

// attemptFileName tags the attempt number once a retry has happened, so
// failed attempts stay inspectable next to the final one.
func attemptFileName(req FetchRequest, attempt, maxRetries int, class ErrorClass) string {
	base := fmt.Sprintf("page-%d", req.Page)
	if req.Page == 0 {
		base = "warmup"
		if req.Label != "" {
			base += "-" + req.Label
		}
	}
	switch {
	case class == ClassNone && attempt == 1:
		return base + ".html"
	case class == ClassNone:
		return fmt.Sprintf("%s-attempt-%d.html", base, attempt)
	case attempt >= maxRetries:
		return fmt.Sprintf("%s-error-%d.html", base, attempt)
	default:
		return fmt.Sprintf("%s-retry-%d.html", base, attempt)
	}
}
