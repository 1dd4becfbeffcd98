package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/couchcryptid/hydroalert-service/internal/dashboard"
	"github.com/couchcryptid/hydroalert-service/internal/domain"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
)

const (
	sourceHTTP   = "http"
	maxBodyBytes = 1 << 16
)

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

type registerRequest struct {
	DeviceID  string   `json:"deviceID"`
	Latitude  *float64 `json:"lat"`
	Longitude *float64 `json:"long"`
}

func (h *handlers) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var loc *domain.GeoPoint
	if req.Latitude != nil && req.Longitude != nil {
		loc = &domain.GeoPoint{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	device, created, err := h.deps.Devices.RegisterDevice(r.Context(), req.DeviceID, loc)
	switch {
	case errors.Is(err, domain.ErrInvalidReading):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("register device failed", "device_id", req.DeviceID, "error", err)
		writeError(w, statusFor(err), "device store unavailable")
	case !created:
		sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Device already registered"})
	default:
		sharedobs.WriteJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"message": "Device registered successfully",
			"device":  device,
		})
	}
}

func (h *handlers) storeData(w http.ResponseWriter, r *http.Request) {
	var t domain.Telemetry
	if err := decodeBody(w, r, &t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.deps.Devices.Ingest(r.Context(), sourceHTTP, t)
	switch {
	case errors.Is(err, domain.ErrRejectedAsNoise):
		sharedobs.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"error":   "Data rejected: Possible sensor error (extreme jump)",
			"reason":  res.Reason,
		})
	case errors.Is(err, domain.ErrInvalidReading):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("store sensor data failed", "device_id", t.DeviceID, "accepted", res.Accepted, "error", err)
		sharedobs.WriteJSON(w, statusFor(err), map[string]any{
			"success":  false,
			"accepted": res.Accepted,
			"error":    "store temporarily unavailable",
		})
	default:
		sharedobs.WriteJSON(w, http.StatusCreated, map[string]any{
			"success": true,
			"status":  res.Status,
			"message": "Sensor data stored successfully",
		})
	}
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.deps.Dashboard.Summary(r.Context())
	if err != nil {
		h.serverError(w, "dashboard summary", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": sum})
}

func (h *handlers) monitoring(w http.ResponseWriter, r *http.Request) {
	m, err := h.deps.Dashboard.Monitoring(r.Context())
	if err != nil {
		h.serverError(w, "monitoring", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "stats": m.Stats, "devices": m.Devices})
}

func (h *handlers) notificationHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hq := dashboard.HistoryQuery{
		DeviceID: q.Get("deviceID"),
		Severity: q.Get("severity"),
		Sort:     q.Get("sort"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		hq.Limit = n
	}

	groups, err := h.deps.Dashboard.NotificationHistory(r.Context(), hq)
	if errors.Is(err, dashboard.ErrInvalidQuery) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		h.serverError(w, "notification history", err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": groups})
}

func (h *handlers) serverError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op+" failed", "error", err)
	writeError(w, statusFor(err), "server error")
}

// statusFor maps store outages to 503 and anything else to 500.
func statusFor(err error) int {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("malformed JSON body")
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]any{"success": false, "error": msg})
}
