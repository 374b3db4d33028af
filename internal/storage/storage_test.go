package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"backend-tagmap/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/pashagolub/pgxmock/v3"
)

type fakeObjects struct {
	presigned []string
	removed   []string
	failKey   string
}

func (f *fakeObjects) PresignedPutObject(_ context.Context, bucket, key string, _ time.Duration) (*url.URL, error) {
	f.presigned = append(f.presigned, key)
	return url.Parse("https://minio.local/" + bucket + "/" + key + "?X-Amz-Signature=abc")
}

func (f *fakeObjects) RemoveObject(_ context.Context, _, key string, _ minio.RemoveObjectOptions) error {
	if key == f.failKey {
		return errors.New("access denied")
	}
	f.removed = append(f.removed, key)
	return nil
}

func TestObjectKey(t *testing.T) {
	key := ObjectKey("tag-1")
	if !strings.HasPrefix(key, "tag-1/") || len(key) != len("tag-1/")+8 {
		t.Fatalf("unexpected key %q", key)
	}
}

func TestIssueUploadURLs(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectExec(`INSERT INTO storage_objects`).
			WithArgs(pgxmock.AnyArg(), "tag-1", pgxmock.AnyArg(), pgxmock.AnyArg(), "user-1").
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}

	objects := &fakeObjects{}
	svc := NewService(mock, objects, "images", "http://minio.local/images/", time.Minute)
	urls, err := svc.IssueUploadURLs(context.Background(), "tag-1", "user-1", 2)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(urls) != 2 || len(objects.presigned) != 2 {
		t.Fatalf("expected two urls, got %v", urls)
	}
	if !strings.Contains(urls[0], "X-Amz-Signature") {
		t.Fatalf("expected presigned url, got %s", urls[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeleteImages(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	urls := []string{"http://minio.local/images/tag-1/aaaa1111", "http://minio.local/images/other/bbbb2222"}
	mock.ExpectQuery(`SELECT id, object_key FROM storage_objects`).
		WithArgs("tag-1", urls).
		WillReturnRows(pgxmock.NewRows([]string{"id", "object_key"}).AddRow("o1", "tag-1/aaaa1111"))
	mock.ExpectExec(`DELETE FROM storage_objects WHERE id = \$1`).
		WithArgs("o1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	objects := &fakeObjects{}
	svc := NewService(mock, objects, "images", "http://minio.local/images", time.Minute)
	ok, err := svc.DeleteImages(context.Background(), "tag-1", urls)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok {
		t.Fatalf("a foreign url cannot be deleted, expected partial result")
	}
	if len(objects.removed) != 1 || objects.removed[0] != "tag-1/aaaa1111" {
		t.Fatalf("unexpected removals %v", objects.removed)
	}
}

func TestImageURLsFor(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectQuery(`SELECT tag_id, url FROM storage_objects`).
		WithArgs([]string{"t1", "t2"}).
		WillReturnRows(pgxmock.NewRows([]string{"tag_id", "url"}).
			AddRow("t1", "u1").AddRow("t1", "u2").AddRow("t2", "u3"))

	svc := NewService(mock, &fakeObjects{}, "images", "", 0)
	got, err := svc.ImageURLsFor(context.Background(), []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("image urls: %v", err)
	}
	if len(got["t1"]) != 2 || got["t2"][0] != "u3" {
		t.Fatalf("unexpected urls %v", got)
	}
}

func TestNewMinioBaseURL(t *testing.T) {
	cfg := config.Config{
		MinioEndpoint: "localhost:9000", MinioAccessKey: "minio", MinioSecretKey: "minio123",
		MinioBucket: "tag-images", MinioRegion: "us-east-1", MinioUseSSL: true,
	}
	client, base, err := NewMinio(cfg)
	if err != nil {
		t.Fatalf("new minio: %v", err)
	}
	if client == nil || base != "https://localhost:9000/tag-images" {
		t.Fatalf("unexpected base %q", base)
	}

	u, err := client.PresignedPutObject(context.Background(), "tag-images", "t1/abcd1234", time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(u.RawQuery, "X-Amz-Signature") {
		t.Fatalf("expected signature in %s", u.String())
	}
}

func TestNoop(t *testing.T) {
	var n Noop
	urls, err := n.IssueUploadURLs(context.Background(), "t", "u", 3)
	if err != nil || urls != nil {
		t.Fatalf("noop issue: %v %v", urls, err)
	}
	ok, _ := n.DeleteImages(context.Background(), "t", []string{"x"})
	if ok {
		t.Fatalf("noop cannot delete")
	}
}
