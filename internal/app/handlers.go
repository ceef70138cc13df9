package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"rollcall/attendance-server/internal/model"
	"rollcall/attendance-server/internal/validate"
)

const (
	defaultRecentLimit = 10
	maxRecentLimit     = 100

	storeTimeout = 2 * time.Second
)

// attendanceView is the wire shape of a persisted record.
type attendanceView struct {
	ID                int64  `json:"id"`
	StudentMACAddress string `json:"student_mac_address"`
	ClassroomID       int    `json:"classroom_id"`
	EntryTimestamp    string `json:"entry_timestamp"`
	CreatedAt         string `json:"created_at"`
}

func toView(rec model.AttendanceRecord) attendanceView {
	return attendanceView{
		ID:                rec.ID,
		StudentMACAddress: rec.StudentMACAddress,
		ClassroomID:       rec.ClassroomID,
		EntryTimestamp:    rec.EntryTimestamp.Format(model.TimestampLayout),
		CreatedAt:         rec.CreatedAt.Format(model.TimestampLayout),
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/attendance", a.handleRecordAttendance)
	mux.HandleFunc("/api/attendance/recent", a.handleRecentAttendance)
	mux.HandleFunc("/api/attendance/summary", a.handleDailySummary)
	mux.HandleFunc("/api/scanners", a.handleScanners)
	mux.HandleFunc("/api/health", a.handleHealth)
	return mux
}

func (a *App) handleRecordAttendance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var report model.SightingReport
	if err := json.Unmarshal(body, &report); err != nil {
		a.recordIngestionError(r.Context(), "http", body, "invalid JSON payload")
		a.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	rec, ferr := validate.Normalize(report)
	if ferr != nil {
		a.logger.Warn("attendance report rejected", "field", ferr.Field, "reason", ferr.Reason)
		a.recordIngestionError(r.Context(), "http", body, ferr.Error())
		a.writeError(w, http.StatusBadRequest, ferr.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	stored, err := a.store.InsertAttendance(ctx, rec)
	if err != nil {
		a.logger.Error("failed to persist attendance", "student", rec.StudentMACAddress, "classroom", rec.ClassroomID, "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to record attendance")
		return
	}

	a.markScannerSeen(ctx, rec.ClassroomID, "http")

	a.logger.Info("attendance recorded", "id", stored.ID, "student", stored.StudentMACAddress, "classroom", stored.ClassroomID)

	a.writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Attendance recorded successfully",
		"id":      stored.ID,
	})
}

func (a *App) handleRecentAttendance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	limit := defaultRecentLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			a.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed > maxRecentLimit {
			parsed = maxRecentLimit
		}
		limit = parsed
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	records, err := a.store.RecentAttendance(ctx, limit)
	if err != nil {
		a.logger.Error("failed to query recent attendance", "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to retrieve attendance records")
		return
	}

	views := make([]attendanceView, 0, len(records))
	for _, rec := range records {
		views = append(views, toView(rec))
	}

	a.writeJSON(w, http.StatusOK, views)
}

func (a *App) handleDailySummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	classroomID, err := strconv.Atoi(r.URL.Query().Get("classroom_id"))
	if err != nil || classroomID <= 0 {
		a.writeError(w, http.StatusBadRequest, "classroom_id must be a positive integer")
		return
	}

	date := r.URL.Query().Get("date")
	if date == "" {
		date = time.Now().Format(model.DateLayout)
	} else if _, err := time.Parse(model.DateLayout, date); err != nil {
		a.writeError(w, http.StatusBadRequest, "date must match YYYY-MM-DD")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	summary, err := a.store.DailySummary(ctx, classroomID, date)
	if err != nil {
		a.logger.Error("failed to compute daily summary", "classroom", classroomID, "date", date, "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to compute daily summary")
		return
	}

	a.writeJSON(w, http.StatusOK, summary)
}

func (a *App) handleScanners(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	scanners, err := a.store.ListScanners(ctx)
	if err != nil {
		a.logger.Error("failed to list scanners", "error", err)
		a.writeError(w, http.StatusInternalServerError, "failed to list scanners")
		return
	}

	type scannerView struct {
		ClassroomID int    `json:"classroom_id"`
		Source      string `json:"source"`
		LastSeen    string `json:"last_seen"`
	}

	views := make([]scannerView, 0, len(scanners))
	for _, sc := range scanners {
		views = append(views, scannerView{
			ClassroomID: sc.ClassroomID,
			Source:      sc.Source,
			LastSeen:    sc.LastSeen.Format(model.TimestampLayout),
		})
	}

	a.writeJSON(w, http.StatusOK, views)
}

// handleHealth always answers 200; degradation is reported in the body so
// the dashboard can poll a single endpoint.
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	dbOK := a.store.Ping(ctx) == nil

	status := "ok"
	if !dbOK {
		status = "degraded"
	}

	a.writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"backend":  true,
		"database": dbOK,
	})
}

// recordIngestionError persists a rejected payload. Best effort: failures are
// logged and never alter the response already owed to the caller.
func (a *App) recordIngestionError(ctx context.Context, source string, payload []byte, reason string) {
	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	err := a.store.InsertIngestionError(storeCtx, model.IngestionError{
		Source:  source,
		Payload: string(payload),
		Error:   reason,
	})
	if err != nil {
		a.logger.Error("failed to record ingestion error", "source", source, "error", err)
	}
}

func (a *App) markScannerSeen(ctx context.Context, classroomID int, source string) {
	if err := a.store.UpsertScannerActivity(ctx, classroomID, source, time.Now().UTC()); err != nil {
		a.logger.Warn("failed to update scanner activity", "classroom", classroomID, "error", err)
	}
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *App) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}
