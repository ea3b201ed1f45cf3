package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/jobstore"
)

// JobResponse is the API response for a job
type JobResponse struct {
	ID          int64   `json:"id"`
	Number      string  `json:"number"`
	Status      string  `json:"status"`
	Bank        string  `json:"bank"`
	Provider    string  `json:"provider,omitempty"`
	Amount      *int    `json:"amount,omitempty"`
	CreatedAt   string  `json:"created_at"`
	LeasedAt    *string `json:"leased_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// StatusResponse is the API response for queue totals
type StatusResponse struct {
	Total      int `json:"total"`
	New        int `json:"new"`
	Processing int `json:"processing"`
	Success    int `json:"success"`
	Failure    int `json:"failure"`
}

// CreateJobRequest is the body of POST /api/jobs
type CreateJobRequest struct {
	Number   string `json:"number"`
	Bank     string `json:"bank,omitempty"`
	Provider string `json:"provider,omitempty"`
	Amount   *int   `json:"amount,omitempty"`
}

// DeviceResponse is one connected device
type DeviceResponse struct {
	Serial string `json:"serial"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func jobToResponse(j *domain.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Number:      j.Phone.Number,
		Status:      string(j.Status),
		Bank:        string(j.Bank),
		Provider:    string(j.ProviderValue()),
		Amount:      j.Amount,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		LeasedAt:    formatTime(j.LeasedAt),
		CompletedAt: formatTime(j.CompletedAt),
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		counts, err := s.store.CountByStatus(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		status := StatusResponse{
			New:        counts[domain.StatusNew],
			Processing: counts[domain.StatusProcessing],
			Success:    counts[domain.StatusSuccess],
			Failure:    counts[domain.StatusFailure],
		}
		status.Total = status.New + status.Processing + status.Success + status.Failure

		writeJSON(w, status)
	}
}

func (s *Server) jobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			s.listJobs(w, r)
		case http.MethodPost:
			s.createJob(w, r)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	var opts jobstore.ListOptions
	if st := r.URL.Query().Get("status"); st != "" {
		status := domain.JobStatus(st)
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+st)
			return
		}
		opts.Status = status
	}
	if l := r.URL.Query().Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		opts.Limit = limit
	}

	jobs, err := s.store.ListJobs(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	responses := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		responses[i] = jobToResponse(j)
	}
	writeJSON(w, responses)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Number) == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	nj := jobstore.NewJob{Number: req.Number, Bank: domain.Bank(req.Bank), Amount: req.Amount}
	if req.Provider != "" {
		c, err := domain.ParseCarrier(req.Provider)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		nj.Provider = &c
	}
	if req.Amount != nil && *req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	job, err := s.store.AddJob(r.Context(), nj)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Location", "/api/jobs/"+strconv.FormatInt(job.ID, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(jobToResponse(job))
}

func (s *Server) getJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		// Extract job ID from path: /api/jobs/{id}
		raw := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "job ID must be a number")
			return
		}

		job, err := s.store.GetJob(r.Context(), id)
		if errors.Is(err, jobstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, jobToResponse(job))
	}
}

func (s *Server) listDevicesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		if s.devices == nil {
			writeJSON(w, []DeviceResponse{})
			return
		}

		devices, err := s.devices.ListConnectedDevices(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		resp := make([]DeviceResponse, 0, len(devices))
		for _, d := range devices {
			resp = append(resp, DeviceResponse{Serial: d.Serial()})
		}
		writeJSON(w, resp)
	}
}

func (s *Server) recentEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, s.hub.Recent())
	}
}
