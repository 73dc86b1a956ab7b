package handler

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"trafficcounter/internal/dto"
	"trafficcounter/internal/logger"
	"trafficcounter/internal/model"
	"trafficcounter/internal/repository"
)

// SummaryHandler serves GET /api/summary: one date, cameras combined.
func SummaryHandler(summaries repository.SummaryRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		date, ok := dateParam(r, "date")
		if !ok {
			writeError(w, log, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		cameras := cameraParam(r)

		counts, err := summaries.Combined(r.Context(), date, cameras)
		if err != nil {
			log.Error("Error reading summary for %s: %v", date, err)
			writeError(w, log, http.StatusInternalServerError, "failed to read summary")
			return
		}

		writeJSON(w, log, http.StatusOK, dto.DailySummaryResponse{
			Date:    date,
			Cameras: cameras,
			Cars:    counts.Cars,
			Motos:   counts.Motorcycles,
			Buses:   counts.Buses,
			Trucks:  counts.Trucks,
			Total:   counts.Total(),
		})
	}
}

// SummaryRangeHandler serves GET /api/summary/range: per camera and day.
func SummaryRangeHandler(summaries repository.SummaryRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		start, okStart := dateParam(r, "start")
		end, okEnd := dateParam(r, "end")
		if !okStart || !okEnd || start > end {
			writeError(w, log, http.StatusBadRequest, "start and end must be YYYY-MM-DD with start <= end")
			return
		}

		rows, err := summaries.ListRange(r.Context(), start, end, cameraParam(r))
		if err != nil {
			log.Error("Error reading summaries %s..%s: %v", start, end, err)
			writeError(w, log, http.StatusInternalServerError, "failed to read summaries")
			return
		}
		if rows == nil {
			rows = []model.DailySummary{}
		}
		writeJSON(w, log, http.StatusOK, rows)
	}
}

// HourlyHandler serves GET /api/hourly: 24 per-class buckets.
func HourlyHandler(detections repository.DetectionRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		date, ok := dateParam(r, "date")
		if !ok {
			writeError(w, log, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		hours, err := detections.HourlyStats(r.Context(), date, cameraParam(r))
		if err != nil {
			log.Error("Error reading hourly stats for %s: %v", date, err)
			writeError(w, log, http.StatusInternalServerError, "failed to read hourly statistics")
			return
		}
		writeJSON(w, log, http.StatusOK, hours)
	}
}

var exportHeader = []string{"id", "camera_id", "vehicle_type", "confidence", "timestamp", "date", "hour", "synced"}

// ExportHandler streams the detections of one date as CSV.
func ExportHandler(detections repository.DetectionRepository, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		date, ok := dateParam(r, "date")
		if !ok {
			writeError(w, log, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}

		events, err := detections.ListByDate(r.Context(), date, cameraParam(r))
		if err != nil {
			log.Error("Error exporting detections for %s: %v", date, err)
			writeError(w, log, http.StatusInternalServerError, "failed to export detections")
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="traffic_%s.csv"`, date))

		cw := csv.NewWriter(w)
		cw.Write(exportHeader)
		for _, e := range events {
			cw.Write([]string{
				strconv.FormatInt(e.ID, 10),
				e.CameraID,
				string(e.VehicleType),
				strconv.FormatFloat(e.Confidence, 'f', 3, 64),
				e.Timestamp.Format(time.RFC3339),
				e.Date(),
				strconv.Itoa(e.Timestamp.Hour()),
				strconv.FormatBool(e.Synced),
			})
		}
		cw.Flush()
		if err := cw.Error(); err != nil {
			log.Error("Error writing CSV export: %v", err)
		}
	}
}
