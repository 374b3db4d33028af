// Package storage issues presigned upload URLs for tag images and keeps an
// index of the objects issued per tag in storage_objects.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"backend-tagmap/internal/config"
	"backend-tagmap/internal/db"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore is the subset of *minio.Client used here.
type ObjectStore interface {
	PresignedPutObject(ctx context.Context, bucketName, objectName string, expires time.Duration) (*url.URL, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
}

type Service struct {
	db      db.Querier
	objects ObjectStore
	bucket  string
	baseURL string
	ttl     time.Duration
}

func NewService(q db.Querier, objects ObjectStore, bucket, baseURL string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{
		db:      q,
		objects: objects,
		bucket:  bucket,
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
	}
}

// NewMinio builds the MinIO client from configuration. Region is set so that
// presigning does not need a bucket location lookup.
func NewMinio(cfg config.Config) (*minio.Client, string, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, "", fmt.Errorf("init minio: %w", err)
	}
	scheme := "http"
	if cfg.MinioUseSSL {
		scheme = "https"
	}
	return client, fmt.Sprintf("%s://%s/%s", scheme, cfg.MinioEndpoint, cfg.MinioBucket), nil
}

// ObjectKey names an image object: the tag id and eight hex characters.
func ObjectKey(tagID string) string {
	return tagID + "/" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// IssueUploadURLs presigns count PUT URLs under the tag's prefix.
func (s *Service) IssueUploadURLs(ctx context.Context, tagID, userID string, count int) ([]string, error) {
	urls := make([]string, 0, count)
	for i := 0; i < count; i++ {
		key := ObjectKey(tagID)
		u, err := s.objects.PresignedPutObject(ctx, s.bucket, key, s.ttl)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", key, err)
		}
		if _, err := s.SaveObject(ctx, tagID, userID, key); err != nil {
			return nil, err
		}
		urls = append(urls, u.String())
	}
	return urls, nil
}

// SaveObject records an issued object key and returns its row id.
func (s *Service) SaveObject(ctx context.Context, tagID, userID, key string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO storage_objects (id, tag_id, object_key, url, user_id)
		VALUES ($1,$2,$3,$4,$5)
	`, id, tagID, key, s.publicURL(key), userID)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) publicURL(key string) string {
	return s.baseURL + "/" + key
}

// DeleteImages removes the listed images of the tag. URLs that do not belong
// to the tag are ignored. It reports whether every listed URL was removed.
func (s *Service) DeleteImages(ctx context.Context, tagID string, urls []string) (bool, error) {
	if len(urls) == 0 {
		return true, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, object_key FROM storage_objects
		WHERE tag_id = $1 AND url = ANY($2)
	`, tagID, urls)
	if err != nil {
		return false, err
	}
	type object struct{ id, key string }
	var found []object
	for rows.Next() {
		var o object
		if err := rows.Scan(&o.id, &o.key); err != nil {
			rows.Close()
			return false, err
		}
		found = append(found, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return false, err
	}

	var errs []error
	removed := 0
	for _, o := range found {
		if err := s.objects.RemoveObject(ctx, s.bucket, o.key, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", o.key, err))
			continue
		}
		if _, err := s.db.Exec(ctx, `DELETE FROM storage_objects WHERE id = $1`, o.id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed == len(urls), errors.Join(errs...)
}

func (s *Service) ImageURLs(ctx context.Context, tagID string) ([]string, error) {
	all, err := s.ImageURLsFor(ctx, []string{tagID})
	if err != nil {
		return nil, err
	}
	return all[tagID], nil
}

// ImageURLsFor loads the image URLs of several tags in one query.
func (s *Service) ImageURLsFor(ctx context.Context, tagIDs []string) (map[string][]string, error) {
	out := map[string][]string{}
	if len(tagIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `
		SELECT tag_id, url FROM storage_objects
		WHERE tag_id = ANY($1)
		ORDER BY created_at
	`, tagIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var tagID, u string
		if err := rows.Scan(&tagID, &u); err != nil {
			return nil, err
		}
		out[tagID] = append(out[tagID], u)
	}
	return out, rows.Err()
}

// Noop stands in when no object store is configured.
type Noop struct{}

func (Noop) IssueUploadURLs(context.Context, string, string, int) ([]string, error) { return nil, nil }
func (Noop) DeleteImages(_ context.Context, _ string, urls []string) (bool, error) {
	return len(urls) == 0, nil
}
func (Noop) ImageURLs(context.Context, string) ([]string, error) { return nil, nil }
func (Noop) ImageURLsFor(context.Context, []string) (map[string][]string, error) {
	return map[string][]string{}, nil
}
