package service

import (
	"context"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// sheetWriter appends rows to the sheets of one workbook.
type sheetWriter struct {
	file  *excelize.File
	sheet string
	row   int
}

func newSheetWriter() *sheetWriter { return &sheetWriter{file: excelize.NewFile()} }

func (w *sheetWriter) addSheet(name string) error {
	if len(name) > 31 {
		name = name[:31]
	}
	if w.sheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheet = name
	w.row = 1
	return nil
}

func (w *sheetWriter) header(cols ...string) error {
	vals := make([]interface{}, len(cols))
	for i, c := range cols {
		vals[i] = c
	}
	if err := w.write(vals...); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		first, _ := excelize.CoordinatesToCellName(1, w.row-1)
		last, _ := excelize.CoordinatesToCellName(len(cols), w.row-1)
		_ = w.file.SetCellStyle(w.sheet, first, last, style)
	}
	return nil
}

func (w *sheetWriter) write(vals ...interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &vals); err != nil {
		return err
	}
	w.row++
	return nil
}

// ExportOwnerReport writes the owner's yearly analytics as an xlsx workbook
// with Summary, Monthly and Upcoming sheets.
func (s *AnalyticsService) ExportOwnerReport(ctx context.Context, ownerID uint64, out io.Writer) (*OwnerAnalytics, error) {
	rep, err := s.OwnerReport(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if err := writeWorkbook(rep, out); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return rep, nil
}

func writeWorkbook(rep *OwnerAnalytics, out io.Writer) error {
	w := newSheetWriter()
	defer w.file.Close()

	if err := w.addSheet("Summary"); err != nil {
		return err
	}
	if err := w.header("Metric", "Value"); err != nil {
		return err
	}
	summary := [][]interface{}{
		{"Year", rep.Year},
		{"Total leaves", rep.TotalLeaves},
		{"Total leave days", rep.TotalLeaveDays},
		{"Total serving days", rep.TotalServingDays},
		{"Estimated savings", rep.TotalSavings},
	}
	for _, r := range summary {
		if err := w.write(r...); err != nil {
			return err
		}
	}
	for _, t := range sortedLeaveTypes(rep.LeavesByType) {
		if err := w.write("Leaves: "+string(t), rep.LeavesByType[t]); err != nil {
			return err
		}
	}

	if err := w.addSheet("Monthly"); err != nil {
		return err
	}
	if err := w.header("Month", "Leave days", "Serving days", "Estimated savings"); err != nil {
		return err
	}
	for _, m := range rep.MonthlyBreakdown {
		if err := w.write(m.Name, m.LeaveDays, m.ServingDays, m.EstimatedSavings); err != nil {
			return err
		}
	}

	if err := w.addSheet("Upcoming"); err != nil {
		return err
	}
	if err := w.header("ID", "Start", "End", "Type", "Meals", "Reason", "Affected users", "Estimated savings"); err != nil {
		return err
	}
	for _, l := range rep.UpcomingLeaves {
		if err := w.write(l.ID, l.StartDate.Format(dateLayout), l.EndDate.Format(dateLayout), string(l.LeaveType),
			mealList(l.MealTypes), l.Reason, l.AffectedUsers, l.EstimatedSavings); err != nil {
			return err
		}
	}
	return w.file.Write(out)
}
