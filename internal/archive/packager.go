package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	"github.com/vaidashi/rachma-marketplace/internal/models"
	"github.com/vaidashi/rachma-marketplace/internal/storage"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

// Packager bundles artifacts into zip files under dir
type Packager struct {
	files  storage.Storage
	dir    string
	ttl    time.Duration
	logger logger.Logger
}

// NewPackager creates a Packager writing into dir, creating it if needed
func NewPackager(files storage.Storage, dir string, ttl time.Duration, logger logger.Logger) (*Packager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir %s: %w", dir, err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Packager{
		files:  files,
		dir:    dir,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// Dir returns the directory archives are written to
func (p *Packager) Dir() string {
	return p.dir
}

// TTL returns how long a built archive stays available
func (p *Packager) TTL() time.Duration {
	return p.ttl
}

// Build streams every existing artifact into a new zip named name.zip.
// Artifacts that cannot be opened are skipped and reported; ErrNothingToPackage
// is returned when none could be added.
func (p *Packager) Build(ctx context.Context, name string, artifacts []models.Artifact) (*Archive, error) {
	token := uuid.NewString()
	target := filepath.Join(p.dir, token+".zip")

	f, err := os.Create(target)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive: %w", err)
	}

	archive := &Archive{
		Token: token,
		Name:  sanitize(name) + ".zip",
		Path:  target,
	}

	fail := func(err error) (*Archive, error) {
		f.Close()
		os.Remove(target)
		return nil, err
	}

	zw := zip.NewWriter(f)
	entries := make(map[string]int)

	for _, artifact := range artifacts {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		src, err := p.files.Open(ctx, artifact.Disk, artifact.Path)
		if err != nil {
			p.logger.Warn("Skipping artifact missing on disk",
				"error", err,
				"fileID", artifact.FileID,
				"disk", artifact.Disk,
				"path", artifact.Path)
			archive.Skipped = append(archive.Skipped, artifact.FileID)
			continue
		}

		err = p.add(zw, entryName(artifact, entries), src)
		src.Close()
		if err != nil {
			return fail(fmt.Errorf("failed to add %s to archive: %w", artifact.FileID, err))
		}
		archive.Included = append(archive.Included, artifact.FileID)
	}

	if len(archive.Included) == 0 {
		zw.Close()
		f.Close()
		os.Remove(target)
		return nil, fmt.Errorf("%w: %d of %d files missing on disk", ErrNothingToPackage, len(archive.Skipped), len(artifacts))
	}

	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("failed to finish archive: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(target)
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("failed to stat archive: %w", err)
	}

	now := models.GetCurrentTime()
	archive.Size = info.Size()
	archive.CreatedAt = now
	archive.ExpiresAt = now.Add(p.ttl)

	p.logger.Info("Archive built",
		"token", token,
		"included", len(archive.Included),
		"skipped", len(archive.Skipped),
		"size", archive.Size)

	return archive, nil
}

func (p *Packager) add(zw *zip.Writer, name string, src io.Reader) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: models.GetCurrentTime(),
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, src)
	return err
}

// Open opens the file of a built archive
func (p *Packager) Open(archive *Archive) (*os.File, error) {
	f, err := os.Open(archive.Path)
	if os.IsNotExist(err) {
		return nil, ErrArchiveNotFound
	}
	return f, err
}

// entryName places each file under its rachma title, numbering duplicates
func entryName(artifact models.Artifact, seen map[string]int) string {
	name := sanitize(artifact.Name)
	if title := sanitize(artifact.Title); title != "" {
		name = title + "/" + name
	}

	seen[name]++
	if n := seen[name]; n > 1 {
		ext := filepath.Ext(name)
		name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
	}
	return name
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(s)
}
