// Package export renders appointments as an Excel workbook.
package export

import (
	"fmt"
	"io"
	"sort"

	"slotbook/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	SheetAppointments = "Appointments"
	SheetBlocked      = "Blocked dates"
)

// AppointmentColumns is the header row of the appointments sheet.
var AppointmentColumns = []string{"Date", "Time", "Name", "Email", "Notes", "ID"}

// sheetWriter appends rows to the sheets of one workbook.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	row := make([]any, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeRow(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
	endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
	return w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
}

func (w *sheetWriter) writeRow(row []any) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}

	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}

	w.currentRow++
	return nil
}

// WriteAppointments writes a single-sheet workbook sorted by date and time.
func WriteAppointments(out io.Writer, appts []models.Appointment) error {
	return WriteCalendar(out, appts, nil)
}

// WriteCalendar writes the appointments sheet and, when blocked is non-empty,
// a second sheet listing blocked dates.
func WriteCalendar(out io.Writer, appts []models.Appointment, blocked []models.Date) error {
	w := newSheetWriter()
	defer func() { _ = w.file.Close() }()

	sorted := append([]models.Appointment(nil), appts...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SortKey() < sorted[j].SortKey()
	})

	if err := w.addSheet(SheetAppointments); err != nil {
		return err
	}
	if err := w.writeHeader(AppointmentColumns); err != nil {
		return err
	}
	for _, a := range sorted {
		row := []any{a.Date.String(), a.Time, a.Name, a.Email, a.Notes, a.ID}
		if err := w.writeRow(row); err != nil {
			return err
		}
	}

	if len(blocked) > 0 {
		dates := append([]models.Date(nil), blocked...)
		sort.Slice(dates, func(i, j int) bool { return dates[i] < dates[j] })

		if err := w.addSheet(SheetBlocked); err != nil {
			return err
		}
		if err := w.writeHeader([]string{"Date"}); err != nil {
			return err
		}
		for _, d := range dates {
			if err := w.writeRow([]any{d.String()}); err != nil {
				return err
			}
		}
	}

	if _, err := w.file.WriteTo(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
