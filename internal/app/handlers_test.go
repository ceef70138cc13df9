package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"rollcall/attendance-server/internal/config"
	"rollcall/attendance-server/internal/store"
)

func newTestApp(t *testing.T) *App {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "attendance.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	return &App{
		cfg:    config.Config{HTTPPort: 8080},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		store:  st,
	}
}

func postAttendance(t *testing.T, a *App, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/attendance", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.routes().ServeHTTP(rr, req)
	return rr
}

func getJSON(t *testing.T, a *App, target string, out any) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rr := httptest.NewRecorder()
	a.routes().ServeHTTP(rr, req)
	if out != nil && rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s response: %v", target, err)
		}
	}
	return rr
}

func TestRecordAttendanceRoundTrip(t *testing.T) {
	a := newTestApp(t)

	rr := postAttendance(t, a, `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":101,"timestamp":"2024-01-15 09:00:00"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rr.Code, rr.Body.String())
	}

	var created struct {
		Message string `json:"message"`
		ID      int64  `json:"id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.Message != "Attendance recorded successfully" {
		t.Errorf("message = %q", created.Message)
	}
	if created.ID <= 0 {
		t.Errorf("id = %d, want positive", created.ID)
	}

	var records []attendanceView
	getJSON(t, a, "/api/attendance/recent", &records)
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	got := records[0]
	if got.ID != created.ID {
		t.Errorf("record id = %d, want %d", got.ID, created.ID)
	}
	if got.StudentMACAddress != "AA:BB:CC:DD:EE:01" {
		t.Errorf("student = %q", got.StudentMACAddress)
	}
	if got.ClassroomID != 101 {
		t.Errorf("classroom = %d, want 101", got.ClassroomID)
	}
	if got.EntryTimestamp != "2024-01-15 09:00:00" {
		t.Errorf("entry_timestamp = %q", got.EntryTimestamp)
	}
	if got.CreatedAt == "" {
		t.Error("created_at empty")
	}
}

func TestRecordAttendanceClassroomAsString(t *testing.T) {
	a := newTestApp(t)

	rr := postAttendance(t, a, `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":"101","timestamp":"2024-01-15 09:00:00"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", rr.Code, rr.Body.String())
	}
}

func TestRecordAttendanceValidationFailures(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{
			name:      "missing student mac",
			body:      `{"classroom_id":101,"timestamp":"2024-01-15 09:00:00"}`,
			wantField: "student_mac_address",
		},
		{
			name:      "missing classroom",
			body:      `{"student_mac_address":"AA:BB:CC:DD:EE:01","timestamp":"2024-01-15 09:00:00"}`,
			wantField: "classroom_id",
		},
		{
			name:      "missing timestamp",
			body:      `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":101}`,
			wantField: "timestamp",
		},
		{
			name:      "non-numeric classroom",
			body:      `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":"lab-a","timestamp":"2024-01-15 09:00:00"}`,
			wantField: "classroom_id",
		},
		{
			name:      "bad timestamp",
			body:      `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":101,"timestamp":"yesterday"}`,
			wantField: "timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestApp(t)

			rr := postAttendance(t, a, tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body %s", rr.Code, rr.Body.String())
			}

			var resp struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if !strings.Contains(resp.Error, tt.wantField) {
				t.Errorf("error = %q, want it to name %q", resp.Error, tt.wantField)
			}

			// Nothing may be persisted for a rejected report.
			var records []attendanceView
			getJSON(t, a, "/api/attendance/recent", &records)
			if len(records) != 0 {
				t.Errorf("len(records) = %d after rejected report, want 0", len(records))
			}
		})
	}
}

func TestRecordAttendanceInvalidJSON(t *testing.T) {
	a := newTestApp(t)

	rr := postAttendance(t, a, `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestRecordAttendanceMethodNotAllowed(t *testing.T) {
	a := newTestApp(t)

	rr := getJSON(t, a, "/api/attendance", nil)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rr.Code)
	}
}

func TestRecordAttendanceStorageFailure(t *testing.T) {
	a := newTestApp(t)
	a.store.Close()

	rr := postAttendance(t, a, `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":101,"timestamp":"2024-01-15 09:00:00"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500, body %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == "" {
		t.Error("error message empty")
	}
}

func TestDuplicateSubmissionCreatesDistinctRecords(t *testing.T) {
	a := newTestApp(t)

	body := `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":101,"timestamp":"2024-01-15 09:00:00"}`
	first := postAttendance(t, a, body)
	second := postAttendance(t, a, body)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("statuses = %d, %d, want 201 both", first.Code, second.Code)
	}

	var records []attendanceView
	getJSON(t, a, "/api/attendance/recent", &records)
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].ID == records[1].ID {
		t.Errorf("duplicate submissions share id %d", records[0].ID)
	}
}

func TestRecentAttendanceLimitAndOrdering(t *testing.T) {
	a := newTestApp(t)

	for i := 0; i < 5; i++ {
		body := fmt.Sprintf(
			`{"student_mac_address":"AA:BB:CC:DD:EE:%02d","classroom_id":101,"timestamp":"2024-01-15 09:%02d:00"}`,
			i, i)
		if rr := postAttendance(t, a, body); rr.Code != http.StatusCreated {
			t.Fatalf("seed insert %d failed: %d", i, rr.Code)
		}
	}

	var records []attendanceView
	getJSON(t, a, "/api/attendance/recent?limit=3", &records)
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	for i := 1; i < len(records); i++ {
		if records[i].EntryTimestamp > records[i-1].EntryTimestamp {
			t.Errorf("records out of order: %q before %q", records[i-1].EntryTimestamp, records[i].EntryTimestamp)
		}
	}

	rr := getJSON(t, a, "/api/attendance/recent?limit=0", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rr.Code)
	}
}

func TestDailySummaryEndpoint(t *testing.T) {
	a := newTestApp(t)

	// Same beacon sighted twice plus a different classroom as noise.
	postAttendance(t, a, `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":101,"timestamp":"2024-01-15 09:00:00"}`)
	postAttendance(t, a, `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":101,"timestamp":"2024-01-15 09:01:00"}`)
	postAttendance(t, a, `{"student_mac_address":"AA:BB:CC:DD:EE:02","classroom_id":202,"timestamp":"2024-01-15 09:00:00"}`)

	var summary struct {
		ClassroomID    int    `json:"classroom_id"`
		Date           string `json:"date"`
		UniqueStudents int    `json:"unique_students"`
		TotalEntries   int    `json:"total_entries"`
	}
	rr := getJSON(t, a, "/api/attendance/summary?classroom_id=101&date=2024-01-15", &summary)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if summary.UniqueStudents != 1 {
		t.Errorf("unique_students = %d, want 1", summary.UniqueStudents)
	}
	if summary.TotalEntries != 2 {
		t.Errorf("total_entries = %d, want 2", summary.TotalEntries)
	}
	if summary.Date != "2024-01-15" {
		t.Errorf("date = %q", summary.Date)
	}

	if rr := getJSON(t, a, "/api/attendance/summary?date=2024-01-15", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("missing classroom_id status = %d, want 400", rr.Code)
	}
	if rr := getJSON(t, a, "/api/attendance/summary?classroom_id=101&date=Jan-15", nil); rr.Code != http.StatusBadRequest {
		t.Errorf("bad date status = %d, want 400", rr.Code)
	}
}

func TestScannersEndpoint(t *testing.T) {
	a := newTestApp(t)

	postAttendance(t, a, `{"student_mac_address":"AA:BB:CC:DD:EE:01","classroom_id":101,"timestamp":"2024-01-15 09:00:00"}`)

	var scanners []struct {
		ClassroomID int    `json:"classroom_id"`
		Source      string `json:"source"`
		LastSeen    string `json:"last_seen"`
	}
	rr := getJSON(t, a, "/api/scanners", &scanners)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if len(scanners) != 1 {
		t.Fatalf("len(scanners) = %d, want 1", len(scanners))
	}
	if scanners[0].ClassroomID != 101 || scanners[0].Source != "http" {
		t.Errorf("scanner = %+v", scanners[0])
	}
}

func TestHealthEndpoint(t *testing.T) {
	a := newTestApp(t)

	var health struct {
		Status   string `json:"status"`
		Backend  bool   `json:"backend"`
		Database bool   `json:"database"`
	}
	rr := getJSON(t, a, "/api/health", &health)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if health.Status != "ok" || !health.Backend || !health.Database {
		t.Errorf("health = %+v, want ok/true/true", health)
	}

	// Severing the store connection degrades the report but keeps HTTP 200.
	a.store.Close()
	rr = getJSON(t, a, "/api/health", &health)
	if rr.Code != http.StatusOK {
		t.Fatalf("degraded status = %d, want 200", rr.Code)
	}
	if health.Status != "degraded" || health.Database {
		t.Errorf("health = %+v, want degraded with database=false", health)
	}
}

func TestRejectedReportIsLogged(t *testing.T) {
	a := newTestApp(t)

	postAttendance(t, a, `{"classroom_id":101,"timestamp":"2024-01-15 09:00:00"}`)

	errs, err := a.store.RecentIngestionErrors(context.Background(), 10)
	if err != nil {
		t.Fatalf("recent ingestion errors: %v", err)
	}
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if errs[0].Source != "http" {
		t.Errorf("source = %q, want http", errs[0].Source)
	}
	if !strings.Contains(errs[0].Error, "student_mac_address") {
		t.Errorf("error = %q, want it to name student_mac_address", errs[0].Error)
	}
	if !bytes.Contains([]byte(errs[0].Payload), []byte("classroom_id")) {
		t.Errorf("payload = %q, want raw body preserved", errs[0].Payload)
	}
}
