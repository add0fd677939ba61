// Package mirror copies archived runs to S3-compatible object storage.
package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"path"
	"path/filepath"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hazyhaar/audasnap/archive"
	"github.com/hazyhaar/audasnap/config"
)

type uploader interface {
	FPutObject(ctx context.Context, bucket, object, file string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Mirror uploads every file of an archive folder under
// <prefix>/<kind>/<key>/<name>.
type Mirror struct {
	mc     *minio.Client
	up     uploader
	bucket string
	region string
	prefix string
	layout archive.Layout
	log    *slog.Logger
}

// New connects a minio client for cfg. It does not contact the server.
func New(cfg config.MirrorConfig, layout archive.Layout, log *slog.Logger) (*Mirror, error) {
	if log == nil {
		log = slog.Default()
	}
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: client: %w", err)
	}
	return &Mirror{
		mc:     mc,
		up:     mc,
		bucket: cfg.Bucket,
		region: cfg.Region,
		prefix: cfg.Prefix,
		layout: layout,
		log:    log,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (m *Mirror) EnsureBucket(ctx context.Context) error {
	ok, err := m.mc.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("mirror: bucket exists: %w", err)
	}
	if ok {
		return nil
	}
	if err := m.mc.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.region}); err != nil {
		return fmt.Errorf("mirror: make bucket %s: %w", m.bucket, err)
	}
	m.log.Info("mirror: bucket created", "bucket", m.bucket)
	return nil
}

// Publish uploads the screenshots, SVGs and data files of rec's folder.
// Every file is attempted; the joined error is returned.
func (m *Mirror) Publish(ctx context.Context, rec *archive.Record, _ archive.Saved) error {
	var errs []error
	n := 0
	for _, kind := range []archive.Kind{archive.KindScreenshots, archive.KindSVGs, archive.KindData} {
		root := m.layout.Dir(kind, rec.Folder)
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			key := m.objectKey(kind, rec.Folder, filepath.ToSlash(rel))
			opts := minio.PutObjectOptions{ContentType: contentType(p)}
			if _, err := m.up.FPutObject(ctx, m.bucket, key, p, opts); err != nil {
				errs = append(errs, fmt.Errorf("mirror: put %s: %w", key, err))
				return nil
			}
			n++
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("mirror: walk %s: %w", root, err))
		}
	}
	m.log.Info("mirror: folder uploaded", "folder", rec.Folder, "objects", n, "failed", len(errs))
	return errors.Join(errs...)
}

func (m *Mirror) objectKey(kind archive.Kind, folder, rel string) string {
	return path.Join(m.prefix, string(kind), folder, rel)
}

func contentType(file string) string {
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
