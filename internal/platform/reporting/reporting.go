package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/enikshay/casetools/internal/platform/auth"
)

// Recorder is a row that can be written to a CSV report.
type Recorder interface {
	Record() []string
}

// Writer writes a CSV report: a header row followed by records of the same width.
type Writer struct {
	cw     *csv.Writer
	closer io.Closer
	width  int
	rows   int
	path   string
}

// NewWriter writes header to w and returns a Writer for the records that follow.
func NewWriter(w io.Writer, header []string) (*Writer, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("report: empty header")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("report: write header: %w", err)
	}
	return &Writer{cw: cw, width: len(header)}, nil
}

// Create opens a new report file in dir named <prefix>-<UTC timestamp>.csv.
func Create(dir, prefix string, header []string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s-%s.csv", prefix, time.Now().UTC().Format("2006-01-02T15-04-05"))
	return CreateFile(filepath.Join(dir, name), header)
}

// CreateFile creates or truncates the report at path.
func CreateFile(path string, header []string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("report: create %s: %w", path, err)
	}
	w, err := NewWriter(f, header)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	w.path = path
	return w, nil
}

// Write appends one record. Records must match the header width.
func (w *Writer) Write(record []string) error {
	if len(record) != w.width {
		return fmt.Errorf("report: record has %d fields, header has %d", len(record), w.width)
	}
	if err := w.cw.Write(record); err != nil {
		return fmt.Errorf("report: write record: %w", err)
	}
	w.rows++
	return nil
}

// WriteAll appends every row.
func WriteAll[T Recorder](w *Writer, rows []T) error {
	for _, r := range rows {
		if err := w.Write(r.Record()); err != nil {
			return err
		}
	}
	return nil
}

// Rows reports how many records were written, excluding the header.
func (w *Writer) Rows() int { return w.rows }

// Path is the file path for writers made by Create or CreateFile, or "".
func (w *Writer) Path() string { return w.path }

// Close flushes buffered records and closes the underlying file, if any.
func (w *Writer) Close() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		if w.closer != nil {
			w.closer.Close()
		}
		return fmt.Errorf("report: flush: %w", err)
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// ReportFile describes a report stored in the report directory.
type ReportFile struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// ListReports returns the CSV reports in dir, newest first. A missing dir is empty.
func ListReports(dir string) ([]ReportFile, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return []ReportFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report: read dir %s: %w", dir, err)
	}
	out := []ReportFile{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("report: stat %s: %w", e.Name(), err)
		}
		out = append(out, ReportFile{Name: e.Name(), Size: info.Size(), ModifiedAt: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].Name > out[j].Name
		}
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	return out, nil
}

// Handler serves the reports written by batch commands.
type Handler struct {
	dir string
}

func NewHandler(dir string) *Handler {
	return &Handler{dir: dir}
}

// RegisterRoutes registers the report download routes.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/reports", auth.RequireRole(auth.RoleAdmin, auth.RoleDataManager))
	g.GET("", h.List)
	g.GET("/:name", h.Download)
}

func (h *Handler) List(c echo.Context) error {
	files, err := ListReports(h.dir)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, files)
}

func (h *Handler) Download(c echo.Context) error {
	name := c.Param("name")
	if name == "" || filepath.Base(name) != name || !strings.HasSuffix(name, ".csv") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid report name")
	}
	path := filepath.Join(h.dir, name)
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not found")
	}
	return c.Attachment(path, name)
}
