package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vaidashi/rachma-marketplace/internal/config"
	"github.com/vaidashi/rachma-marketplace/pkg/logger"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestLocalDisk(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "rachmat/rose.dst", "stitches")

	disk, err := NewLocalDisk(root)
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("existing file", func(t *testing.T) {
		ok, err := disk.Exists(ctx, "rachmat/rose.dst")
		require.NoError(t, err)
		assert.True(t, ok)

		size, err := disk.Size(ctx, "rachmat/rose.dst")
		require.NoError(t, err)
		assert.Equal(t, int64(len("stitches")), size)

		rc, err := disk.Open(ctx, "rachmat/rose.dst")
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "stitches", string(data))
	})

	t.Run("missing file", func(t *testing.T) {
		ok, err := disk.Exists(ctx, "rachmat/missing.dst")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = disk.Size(ctx, "rachmat/missing.dst")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("directory is not a file", func(t *testing.T) {
		ok, err := disk.Exists(ctx, "rachmat")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		_, err := disk.Exists(ctx, "../outside.dst")
		assert.ErrorIs(t, err, ErrInvalidPath)

		_, err = disk.Open(ctx, "rachmat/../../etc/passwd")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})

	t.Run("empty path is rejected", func(t *testing.T) {
		_, err := disk.Exists(ctx, " ")
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
}

func TestDisks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pes", "x")
	local, err := NewLocalDisk(root)
	require.NoError(t, err)

	disks := NewDisks(map[string]Backend{DiskPrivate: local})
	ctx := context.Background()

	ok, err := disks.Exists(ctx, DiskPrivate, "a.pes")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = disks.Exists(ctx, "ftp", "a.pes")
	assert.ErrorIs(t, err, ErrUnknownDisk)

	assert.Equal(t, []string{DiskPrivate}, disks.Names())
}

type fakeObjectAPI struct {
	objects map[string]string
	failErr error
	lastKey string
}

func (f *fakeObjectAPI) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.lastKey = aws.ToString(in.Key)
	if f.failErr != nil {
		return nil, f.failErr
	}
	body, ok := f.objects[f.lastKey]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(body)))}, nil
}

func (f *fakeObjectAPI) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.ToString(in.Key)
	body, ok := f.objects[f.lastKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func TestS3Disk(t *testing.T) {
	api := &fakeObjectAPI{objects: map[string]string{"private/rachmat/rose.jef": "jef-bytes"}}
	disk := NewS3Disk(api, "designs", WithPrefix("/private/"))
	ctx := context.Background()

	t.Run("object under prefix", func(t *testing.T) {
		ok, err := disk.Exists(ctx, "rachmat/rose.jef")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "private/rachmat/rose.jef", api.lastKey)

		size, err := disk.Size(ctx, "/rachmat/rose.jef")
		require.NoError(t, err)
		assert.Equal(t, int64(9), size)

		rc, err := disk.Open(ctx, "rachmat/rose.jef")
		require.NoError(t, err)
		data, _ := io.ReadAll(rc)
		assert.Equal(t, "jef-bytes", string(data))
	})

	t.Run("missing object", func(t *testing.T) {
		ok, err := disk.Exists(ctx, "rachmat/none.jef")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = disk.Open(ctx, "rachmat/none.jef")
		assert.ErrorIs(t, err, ErrFileNotFound)
	})

	t.Run("traversal stays inside prefix", func(t *testing.T) {
		_, _ = disk.Exists(ctx, "../../public/x.jef")
		assert.Equal(t, "private/public/x.jef", api.lastKey)
	})

	t.Run("backend error is surfaced", func(t *testing.T) {
		failing := NewS3Disk(&fakeObjectAPI{failErr: errors.New("connection reset")}, "designs")
		_, err := failing.Exists(ctx, "a.jef")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestNewFromConfig(t *testing.T) {
	t.Run("local driver", func(t *testing.T) {
		disks, err := NewFromConfig(context.Background(), config.StorageConfig{
			Driver:      "local",
			PublicRoot:  t.TempDir(),
			PrivateRoot: t.TempDir(),
		}, logger.NewNop())
		require.NoError(t, err)
		assert.Equal(t, []string{DiskPrivate, DiskPublic}, disks.Names())
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := NewFromConfig(context.Background(), config.StorageConfig{Driver: "ftp"}, logger.NewNop())
		assert.Error(t, err)
	})
}
