package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ldi/casegen/pkg/models"
)

// Download is a binary export ready to be written to disk.
type Download struct {
	Data     []byte
	Filename string
}

// ExportFilename names an export after its business type and the moment it was taken.
func ExportFilename(businessType string, now func() time.Time) string {
	bt := NormalizeString(businessType, 50)
	if bt == "" {
		bt = "all"
	}
	return fmt.Sprintf("test_cases_%s_%s.xlsx", bt, now().Format("20060102_150405"))
}

func (s *Service) ExportTestCases(ctx context.Context, f models.CaseFilter) (*Download, error) {
	q := newQuery().
		id("project_id", f.ProjectID).
		str("business_type", f.BusinessType, 50).
		str("stage", string(f.Stage), 20).
		str("status", string(f.Status), 20).
		ids("test_point_ids", f.TestPointIDs)
	data, _, err := s.http.Download(ctx, http.MethodGet, endpoint("unified-test-cases", "export", "excel"), q.values(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to export test cases: %w", err)
	}
	return &Download{Data: data, Filename: ExportFilename(f.BusinessType, s.now)}, nil
}

// Save writes the export into dir and returns the full path.
func (d *Download) Save(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	p := filepath.Join(dir, filepath.Base(d.Filename))
	if err := os.WriteFile(p, d.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export: %w", err)
	}
	return p, nil
}
