// Package report renders the learner roster for download.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/progress"
)

// SheetName is the worksheet WriteUsersXLSX fills.
const SheetName = "Users"

// Columns is the export header, shared by both formats.
var Columns = []string{
	"id", "name", "email", "department", "overall_progress_%", "tests", "time_spent_min", "last_activity",
}

// Row is one exported learner.
type Row struct {
	ID           int64
	Name         string
	Email        string
	Department   string
	Progress     int
	Tests        int
	TimeSpent    int
	LastActivity string
}

// Rows flattens users into export rows, in roster order.
func Rows(users []domain.User) []Row {
	rows := make([]Row, 0, len(users))
	for _, u := range users {
		rows = append(rows, Row{
			ID:           u.ID,
			Name:         u.Name,
			Email:        u.Email,
			Department:   u.Department,
			Progress:     progress.OverallProgress(u.Progress),
			Tests:        len(u.TestResults),
			TimeSpent:    u.TimeSpent,
			LastActivity: u.LastActivity,
		})
	}
	return rows
}

// WriteUsersCSV writes the roster as CSV. Name, department and last activity
// are always quoted; rows are separated by a bare newline with none after the
// last one.
func WriteUsersCSV(w io.Writer, users []domain.User) error {
	var b strings.Builder
	b.WriteString(strings.Join(Columns, ","))
	for _, r := range Rows(users) {
		b.WriteByte('\n')
		b.WriteString(strings.Join([]string{
			strconv.FormatInt(r.ID, 10),
			quote(r.Name),
			r.Email,
			quote(r.Department),
			strconv.Itoa(r.Progress),
			strconv.Itoa(r.Tests),
			strconv.Itoa(r.TimeSpent),
			quote(r.LastActivity),
		}, ","))
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// WriteUsersXLSX writes the roster as an Excel workbook with a single Users
// sheet.
func WriteUsersXLSX(w io.Writer, users []domain.User) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, r := range Rows(users) {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		row := []any{r.ID, r.Name, r.Email, r.Department, r.Progress, r.Tests, r.TimeSpent, r.LastActivity}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

// MinutesToHM formats a minute count as "<h>ч <m>м".
func MinutesToHM(minutes int) string {
	minutes = max(minutes, 0)
	return fmt.Sprintf("%dч %dм", minutes/60, minutes%60)
}
