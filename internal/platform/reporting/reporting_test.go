package reporting

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

type row struct{ id, status string }

func (r row) Record() []string { return []string{r.id, r.status} }

func TestWriter_HeaderAndRecords(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, []string{"case_id", "status"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WriteAll(w, []row{{"a", "close"}, {"b", "retain, keep"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "case_id,status\na,close\nb,\"retain, keep\"\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
	if w.Rows() != 2 {
		t.Errorf("expected 2 rows, got %d", w.Rows())
	}
	if w.Path() != "" {
		t.Errorf("expected empty path, got %q", w.Path())
	}
}

func TestWriter_WidthMismatch(t *testing.T) {
	w, err := NewWriter(&bytes.Buffer{}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Write([]string{"only-one"}); err == nil {
		t.Fatal("expected error for short record")
	}
	if w.Rows() != 0 {
		t.Errorf("expected 0 rows, got %d", w.Rows())
	}
}

func TestNewWriter_EmptyHeader(t *testing.T) {
	if _, err := NewWriter(&bytes.Buffer{}, nil); err == nil {
		t.Fatal("expected error for empty header")
	}
}

func TestCreate_WritesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	w, err := Create(dir, "drug-resistance", []string{"case_id"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Write([]string{"dr-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.HasPrefix(filepath.Base(w.Path()), "drug-resistance-") {
		t.Errorf("unexpected file name: %s", w.Path())
	}
	data, err := os.ReadFile(w.Path())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "case_id\ndr-1\n" {
		t.Errorf("unexpected contents: %q", data)
	}
}

func TestCreateFile_Truncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.csv")
	if err := os.WriteFile(path, []byte("stale contents\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	w, err := CreateFile(path, []string{"episode_id", "error"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WriteAll(w, []row{{"e1", "boom"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w.Path() != path {
		t.Errorf("expected path %s, got %s", path, w.Path())
	}
	data, _ := os.ReadFile(path)
	if string(data) != "episode_id,error\ne1,boom\n" {
		t.Errorf("unexpected contents: %q", data)
	}
}

func TestCreateFile_MissingDir(t *testing.T) {
	if _, err := CreateFile(filepath.Join(t.TempDir(), "missing", "report.csv"), []string{"id"}); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func writeFile(t *testing.T, dir, name string, mod time.Time) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("h\n"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestListReports_NewestFirst(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	writeFile(t, dir, "old.csv", base)
	writeFile(t, dir, "new.csv", base.Add(time.Hour))
	writeFile(t, dir, "notes.txt", base.Add(2*time.Hour))

	files, err := ListReports(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(files))
	}
	if files[0].Name != "new.csv" || files[1].Name != "old.csv" {
		t.Errorf("unexpected order: %+v", files)
	}
}

func TestListReports_MissingDir(t *testing.T) {
	files, err := ListReports(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no reports, got %d", len(files))
	}
}

func newReportContext(name string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+name, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("name")
	c.SetParamValues(name)
	return c, rec
}

func TestHandler_List(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "referrals.csv", time.Now())
	h := NewHandler(dir)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil), rec)
	if err := h.List(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var files []ReportFile
	if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 || files[0].Name != "referrals.csv" {
		t.Errorf("unexpected files: %+v", files)
	}
}

func TestHandler_Download(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "referrals.csv", time.Now())
	h := NewHandler(dir)

	c, rec := newReportContext("referrals.csv")
	if err := h.Download(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get(echo.HeaderContentDisposition), "referrals.csv") {
		t.Errorf("unexpected disposition: %q", rec.Header().Get(echo.HeaderContentDisposition))
	}
}

func TestHandler_Download_Invalid(t *testing.T) {
	h := NewHandler(t.TempDir())
	tests := []struct {
		name string
		code int
	}{
		{"../secret.csv", http.StatusBadRequest},
		{"report.txt", http.StatusBadRequest},
		{"missing.csv", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newReportContext(tt.name)
			err := h.Download(c)
			httpErr, ok := err.(*echo.HTTPError)
			if !ok {
				t.Fatalf("expected echo.HTTPError, got %T", err)
			}
			if httpErr.Code != tt.code {
				t.Errorf("expected %d, got %d", tt.code, httpErr.Code)
			}
		})
	}
}
