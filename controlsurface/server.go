// Package controlsurface implements the thin HTTP/REST wrapper over the
// sensor's core: sniffer lifecycle, alert queries and lifecycle
// operations, learner control, and threat-intel CRUD. A single
// net/http.ServeMux with method-and-path patterns is wired through
// small role-checking middleware wrappers.
package controlsurface

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	safelink "github.com/Nagarohit29/Safelink"
	"github.com/Nagarohit29/Safelink/alertstore"
	"github.com/Nagarohit29/Safelink/learner"
	"github.com/Nagarohit29/Safelink/sensor"
	"github.com/Nagarohit29/Safelink/threatintel"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Role is the minimum privilege an endpoint demands.
type Role int

const (
	RoleAny Role = iota
	RoleOperator
	RoleAdmin
)

// TokenAuth maps a bearer token to the role it grants. Deliberately
// minimal; a production deployment would swap this for whatever
// identity provider the operator already runs.
type TokenAuth map[string]Role

func (t TokenAuth) roleFor(r *http.Request) (Role, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return RoleAny, false
	}
	role, ok := t[auth[len(prefix):]]
	return role, ok
}

// Server bundles every component the control surface fronts.
type Server struct {
	Sniffer     *sensor.Supervisor
	Alerts      *alertstore.Store
	ThreatIntel *threatintel.Store
	Learner     *learner.Learner
	Auth        TokenAuth
	Log         *zap.Logger
}

// NewRouter builds the full route table, including /ws/updates and
// /metrics.
func NewRouter(s *Server, ws http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /sniffer/start", s.requireRole(RoleOperator, s.handleSnifferStart))
	mux.Handle("POST /sniffer/stop", s.requireRole(RoleOperator, s.handleSnifferStop))
	mux.Handle("GET /sniffer/status", s.requireRole(RoleAny, s.handleSnifferStatus))

	mux.Handle("GET /alerts/latest", s.requireRole(RoleAny, s.handleAlertsLatest))
	mux.Handle("GET /alerts/history", s.requireRole(RoleAny, s.handleAlertsHistory))
	mux.Handle("GET /alerts/stats", s.requireRole(RoleAny, s.handleAlertsStats))
	mux.Handle("GET /alerts/download", s.requireRole(RoleAny, s.handleAlertsDownload))
	mux.Handle("POST /alerts/archive", s.requireRole(RoleAny, s.handleAlertsArchive))
	mux.Handle("POST /alerts/rotate", s.requireRole(RoleAny, s.handleAlertsRotate))
	mux.Handle("DELETE /alerts/cleanup", s.requireRole(RoleAdmin, s.handleAlertsCleanup))

	mux.Handle("GET /learning/status", s.requireRole(RoleAny, s.handleLearningStatus))
	mux.Handle("POST /learning/train-now", s.requireRole(RoleAdmin, s.handleLearningTrainNow))
	mux.Handle("POST /learning/start", s.requireRole(RoleAdmin, s.handleLearningStart))
	mux.Handle("POST /learning/stop", s.requireRole(RoleAdmin, s.handleLearningStop))

	mux.Handle("GET /threat_intel/indicators", s.requireRole(RoleAny, s.handleIndicatorsList))
	mux.Handle("POST /threat_intel/indicators", s.requireRole(RoleAny, s.handleIndicatorsCreate))
	mux.Handle("PATCH /threat_intel/indicators/{id}", s.requireRole(RoleAny, s.handleIndicatorsUpdate))
	mux.Handle("DELETE /threat_intel/indicators/{id}", s.requireRole(RoleAny, s.handleIndicatorsDelete))

	mux.Handle("GET /ws/updates", ws)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

func (s *Server) requireRole(min Role, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Auth == nil {
			h(w, r)
			return
		}
		role, ok := s.Auth.roleFor(r)
		if !ok || role < min {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (s *Server) handleSnifferStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Interface string `json:"interface"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Interface == "" {
		http.Error(w, "missing interface", http.StatusBadRequest)
		return
	}
	if err := s.Sniffer.Start(context.Background(), []string{body.Interface}); err != nil {
		status := http.StatusInternalServerError
		if err == safelink.ErrSnifferAlreadyRunning {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, s.Sniffer.Status())
}

func (s *Server) handleSnifferStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Sniffer.Stop(); err != nil {
		status := http.StatusInternalServerError
		if err == safelink.ErrSnifferNotRunning {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, s.Sniffer.Status())
}

func (s *Server) handleSnifferStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sniffer.Status())
}

func (s *Server) handleAlertsLatest(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	alerts, err := s.Alerts.Latest(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAlertsHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	alerts, err := s.Alerts.History(r.Context(), limit, offset)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleAlertsStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Alerts.Stats(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleAlertsDownload streams the live alert table as CSV, optionally
// archiving every exported row afterward.
func (s *Server) handleAlertsDownload(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.Alerts.Latest(r.Context(), 1_000_000)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.csv"`)
	cw := csv.NewWriter(w)
	cw.Write([]string{"id", "timestamp", "module", "reason", "src_ip", "src_mac"})
	ids := make([]int64, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.ID)
		cw.Write([]string{
			strconv.FormatInt(a.ID, 10), a.Timestamp.Format(time.RFC3339),
			string(a.Module), a.Reason, derefOr(a.SrcIP, ""), derefOr(a.SrcMAC, ""),
		})
	}
	cw.Flush()

	if r.URL.Query().Get("archive_after_download") == "true" {
		if _, err := s.Alerts.Archive(r.Context(), ids, safelink.ArchiveCSVExport); err != nil {
			s.Log.Warn("controlsurface: archive after download failed", zap.Error(err))
		}
	}
}

func derefOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

func (s *Server) handleAlertsArchive(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs    []int64 `json:"ids"`
		Reason string  `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	reason := safelink.ArchiveManual
	if body.Reason != "" {
		reason = safelink.ArchiveReason(body.Reason)
	}
	n, err := s.Alerts.Archive(r.Context(), body.IDs, reason)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"archived": n})
}

func (s *Server) handleAlertsRotate(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days_to_keep", 30)
	n, err := s.Alerts.Rotate(r.Context(), days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"archived": n})
}

func (s *Server) handleAlertsCleanup(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days_to_keep", 365)
	n, err := s.Alerts.CleanupArchives(r.Context(), days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (s *Server) handleLearningStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Learner.Status())
}

func (s *Server) handleLearningTrainNow(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Learner.TrainNow(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if err == safelink.ErrLearnerBusy {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleLearningStart(w http.ResponseWriter, r *http.Request) {
	go s.Learner.Run(context.Background())
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *Server) handleLearningStop(w http.ResponseWriter, r *http.Request) {
	s.Learner.Stop()
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) handleIndicatorsList(w http.ResponseWriter, r *http.Request) {
	f := threatintel.ListFilter{
		Type:     safelink.IndicatorType(r.URL.Query().Get("type")),
		Severity: r.URL.Query().Get("severity"),
		Limit:    queryInt(r, "limit", 100),
		Offset:   queryInt(r, "offset", 0),
	}
	indicators, err := s.ThreatIntel.List(r.Context(), f)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, indicators)
}

func (s *Server) handleIndicatorsCreate(w http.ResponseWriter, r *http.Request) {
	var ind safelink.ThreatIndicator
	if err := json.NewDecoder(r.Body).Decode(&ind); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	created, err := s.ThreatIntel.Add(r.Context(), ind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleIndicatorsUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var u threatintel.Update
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.ThreatIntel.Update(r.Context(), id, u); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleIndicatorsDelete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	deleted, err := s.ThreatIntel.Delete(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
