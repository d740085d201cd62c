package report_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/report"
)

func sampleUsers() []domain.User {
	return []domain.User{
		{
			ID:         1,
			Name:       "Алия Каримова",
			Email:      "aliya@sqb.uz",
			Department: "Маркетинг",
			Progress: map[int64]domain.ModuleProgress{
				1: {Started: true, Completed: 3, Total: 6},
				2: {Total: 6},
			},
			TestResults:  []domain.TestResult{{ModuleID: 1}},
			TimeSpent:    135,
			LastActivity: "2025-03-14",
		},
		{
			ID:    2,
			Name:  `Bob "B" Smith`,
			Email: "bob@sqb.uz",
		},
	}
}

func TestWriteUsersCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteUsersCSV(&buf, sampleUsers()); err != nil {
		t.Fatalf("WriteUsersCSV() error = %v", err)
	}

	want := strings.Join([]string{
		"id,name,email,department,overall_progress_%,tests,time_spent_min,last_activity",
		`1,"Алия Каримова",aliya@sqb.uz,"Маркетинг",25,1,135,"2025-03-14"`,
		`2,"Bob ""B"" Smith",bob@sqb.uz,"",0,0,0,""`,
	}, "\n")
	if got := buf.String(); got != want {
		t.Errorf("WriteUsersCSV() =\n%s\nwant\n%s", got, want)
	}
}

func TestWriteUsersCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteUsersCSV(&buf, nil); err != nil {
		t.Fatalf("WriteUsersCSV() error = %v", err)
	}
	if buf.String() != strings.Join(report.Columns, ",") {
		t.Errorf("WriteUsersCSV(nil) = %q, want header only", buf.String())
	}
}

func TestWriteUsersXLSX(t *testing.T) {
	var buf bytes.Buffer
	if err := report.WriteUsersXLSX(&buf, sampleUsers()); err != nil {
		t.Fatalf("WriteUsersXLSX() error = %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	rows, err := f.GetRows(report.SheetName)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	if strings.Join(rows[0], ",") != strings.Join(report.Columns, ",") {
		t.Errorf("header = %v", rows[0])
	}
	if rows[1][1] != "Алия Каримова" || rows[1][4] != "25" || rows[1][6] != "135" {
		t.Errorf("first row = %v", rows[1])
	}
	if rows[2][1] != `Bob "B" Smith` {
		t.Errorf("second row name = %q", rows[2][1])
	}
}

func TestMinutesToHM(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0ч 0м"},
		{45, "0ч 45м"},
		{135, "2ч 15м"},
		{-5, "0ч 0м"},
	}
	for _, tt := range tests {
		if got := report.MinutesToHM(tt.in); got != tt.want {
			t.Errorf("MinutesToHM(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
