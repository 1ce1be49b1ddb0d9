// Package export renders approval requests as spreadsheet reports.
package export

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/approval"
)

const (
	requestsSheet  = "Approvals"
	decisionsSheet = "Decisions"
	dateLayout     = "2006-01-02 15:04"
)

var requestHeader = []interface{}{
	"ID", "Object Type", "Object ID", "Object", "Policy", "Status", "Requester",
	"Reason", "Active Steps", "Created", "Updated", "Expires", "Decided By", "Decided At", "Notes",
}

var decisionHeader = []interface{}{
	"Approval ID", "Step", "Approver", "Decision", "Notes", "Decided At",
}

// XLSXExporter writes a workbook with one row per request and one per vote
type XLSXExporter struct {
	logger *zap.Logger
}

// NewXLSXExporter creates an XLSX exporter
func NewXLSXExporter(logger *zap.Logger) *XLSXExporter {
	return &XLSXExporter{logger: logger}
}

// ContentType returns the XLSX media type
func (e *XLSXExporter) ContentType() string {
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}

// FileExtension returns "xlsx"
func (e *XLSXExporter) FileExtension() string {
	return "xlsx"
}

// Export writes reqs to w
func (e *XLSXExporter) Export(w io.Writer, reqs []*approval.Request) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", requestsSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(decisionsSheet); err != nil {
		return fmt.Errorf("failed to add sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeRow(f, requestsSheet, 1, requestHeader); err != nil {
		return err
	}
	if err := writeRow(f, decisionsSheet, 1, decisionHeader); err != nil {
		return err
	}
	e.styleHeader(f, requestsSheet, len(requestHeader), headerStyle)
	e.styleHeader(f, decisionsSheet, len(decisionHeader), headerStyle)

	decisionRow := 2
	for i, req := range reqs {
		if err := writeRow(f, requestsSheet, i+2, requestRow(req)); err != nil {
			return err
		}
		for _, step := range req.Steps {
			for _, d := range step.Decisions {
				row := []interface{}{req.ID, step.Name, d.ApproverID, string(d.Decision), d.Notes, formatTime(&d.DecidedAt)}
				if err := writeRow(f, decisionsSheet, decisionRow, row); err != nil {
					return err
				}
				decisionRow++
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Approvals exported",
		zap.Int("requests", len(reqs)),
		zap.Int("decisions", decisionRow-2))
	return nil
}

func (e *XLSXExporter) styleHeader(f *excelize.File, sheet string, cols, style int) {
	last, err := excelize.CoordinatesToCellName(cols, 1)
	if err == nil {
		err = f.SetCellStyle(sheet, "A1", last, style)
	}
	if err != nil {
		e.logger.Warn("Failed to style header", zap.String("sheet", sheet), zap.Error(err))
	}
	lastCol, _ := excelize.ColumnNumberToName(cols)
	if err := f.SetColWidth(sheet, "A", lastCol, 18); err != nil {
		e.logger.Warn("Failed to set column width", zap.String("sheet", sheet), zap.Error(err))
	}
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func requestRow(req *approval.Request) []interface{} {
	var active []string
	for _, s := range req.ActiveSteps() {
		active = append(active, s.Name)
	}
	return []interface{}{
		req.ID,
		req.Object.Type,
		req.Object.ID,
		req.Object.Label,
		req.PolicyID,
		string(req.Status),
		req.RequesterID,
		req.TriggerReason,
		strings.Join(active, ", "),
		formatTime(&req.CreatedAt),
		formatTime(&req.UpdatedAt),
		formatTime(req.ExpiresAt),
		req.DecidedBy,
		formatTime(req.DecidedAt),
		req.DecisionNotes,
	}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

// Verify interface compliance
var _ port.RequestExporter = (*XLSXExporter)(nil)
