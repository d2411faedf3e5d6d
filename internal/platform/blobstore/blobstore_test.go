package blobstore

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 records PUT requests; other methods answer 501.
type fakeS3 struct {
	mu   sync.Mutex
	puts map[string]put
	fail bool
}

type put struct {
	contentType string
	size        int64
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Method != http.MethodPut {
		return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	if f.fail {
		body := `<?xml version="1.0"?><Error><Code>AccessDenied</Code><Message>denied</Message></Error>`
		return &http.Response{StatusCode: http.StatusForbidden, Body: io.NopCloser(strings.NewReader(body)), Header: http.Header{"Content-Type": {"application/xml"}}}, nil
	}
	_, _ = io.Copy(io.Discard, req.Body)
	f.puts[req.URL.Path] = put{contentType: req.Header.Get("Content-Type"), size: req.ContentLength}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {`"etag"`}}}, nil
}

func newFakeArchive(t *testing.T, prefix string) (*S3Archive, *fakeS3) {
	t.Helper()
	fake := &fakeS3{puts: make(map[string]put)}
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
	})
	return &S3Archive{client: client, bucket: "reports", prefix: prefix}, fake
}

func TestNewS3_RequiresBucket(t *testing.T) {
	if _, err := NewS3(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func TestUploadReport(t *testing.T) {
	archive, fake := newFakeArchive(t, "enikshay-reports/")
	file := filepath.Join(t.TempDir(), "reconcile-referrals-2017-02-15T06-00-00.csv")
	if err := os.WriteFile(file, []byte("person_id,case_id\np1,r1\n"), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}

	key, err := UploadReport(context.Background(), archive, "enikshay", file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "enikshay/reconcile-referrals-2017-02-15T06-00-00.csv" {
		t.Errorf("unexpected key %q", key)
	}
	got, ok := fake.puts["/reports/enikshay-reports/"+key]
	if !ok {
		t.Fatalf("expected object to be uploaded, got %v", fake.puts)
	}
	if got.contentType != "text/csv" {
		t.Errorf("expected text/csv, got %q", got.contentType)
	}
}

func TestUploadReport_Errors(t *testing.T) {
	archive, fake := newFakeArchive(t, "")
	if _, err := UploadReport(context.Background(), archive, "enikshay", filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("expected error for a missing report")
	}

	fake.fail = true
	file := filepath.Join(t.TempDir(), "r.csv")
	if err := os.WriteFile(file, []byte("a\n"), 0o644); err != nil {
		t.Fatalf("write report: %v", err)
	}
	_, err := UploadReport(context.Background(), archive, "enikshay", file)
	if err == nil || !strings.Contains(err.Error(), "s3://reports/enikshay/r.csv") {
		t.Errorf("expected put error naming the object, got %v", err)
	}
}

func TestReportKey(t *testing.T) {
	if got := ReportKey("enikshay", "/var/reports/a.csv"); got != "enikshay/a.csv" {
		t.Errorf("unexpected key %q", got)
	}
}
