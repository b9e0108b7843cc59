package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/snehjoshi/contactrelay/internal/activity"
	"github.com/snehjoshi/contactrelay/internal/archive"
	"github.com/snehjoshi/contactrelay/internal/connectivity"
	"github.com/snehjoshi/contactrelay/internal/delivery"
	"github.com/snehjoshi/contactrelay/internal/outbox"
	"github.com/snehjoshi/contactrelay/internal/types"
)

// defaultReplayLimit bounds an archive replay when the request doesn't say.
const defaultReplayLimit = 100

// Handler groups all HTTP request handlers around the outbox processor.
type Handler struct {
	proc     *outbox.Processor
	client   *delivery.Client
	log      *activity.Log
	conn     connectivity.Source
	archive  *archive.Store // nil in ephemeral storage mode
	agentID  string
	flushCtr func(result string) // may be nil
}

// ─── DTOs ─────────────────────────────────────────────────────────────────────

type submitReq struct {
	types.Contact
	// Send defaults to true: attempt immediate delivery, queue on failure.
	// false records the contact locally without ever touching the outbox.
	Send *bool `json:"send"`
}

type submitResp struct {
	Outcome types.Outcome `json:"outcome"`
	Error   string        `json:"error,omitempty"`
}

type outboxResp struct {
	Count int          `json:"count"`
	Items []types.Item `json:"items"`
}

type purgeResp struct {
	Purged int `json:"purged"`
}

type flushResp struct {
	Flushed bool `json:"flushed"`
	Pending int  `json:"pending"`
}

type activityResp struct {
	Events []types.Event `json:"events"`
}

type endpointReq struct {
	URL string `json:"url"`
}

type endpointResp struct {
	URL        string `json:"url"`
	Configured bool   `json:"configured"`
}

type archiveResp struct {
	Records []archive.Record `json:"records"`
}

type replayResp struct {
	Replayed int `json:"replayed"`
}

type healthResp struct {
	Status             string `json:"status"`
	AgentID            string `json:"agent_id"`
	Online             bool   `json:"online"`
	EndpointConfigured bool   `json:"endpoint_configured"`
	Pending            int    `json:"pending"`
	Uptime             string `json:"uptime"`
	UptimeMs           int64  `json:"uptime_ms"`
	Version            string `json:"version"`
}

// ─── Health ───────────────────────────────────────────────────────────────────

var startTime = time.Now()

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	pending, _ := h.proc.Pending()
	elapsed := time.Since(startTime)
	writeJSON(w, http.StatusOK, healthResp{
		Status:             "ok",
		AgentID:            h.agentID,
		Online:             h.conn.Online(),
		EndpointConfigured: h.client.Endpoint() != "",
		Pending:            len(pending),
		Uptime:             elapsed.Round(time.Second).String(),
		UptimeMs:           elapsed.Milliseconds(),
		Version:            "1.0.0",
	})
}

// ─── Submission ───────────────────────────────────────────────────────────────

func (h *Handler) submitContact(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Contact.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, err := json.Marshal(req.Contact)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	sendNow := req.Send == nil || *req.Send
	ev := h.proc.Submit(r.Context(), payload, sendNow)

	// 202: the submission is accepted regardless of whether delivery
	// happened now, later, or not at all.
	writeJSON(w, http.StatusAccepted, submitResp{Outcome: ev.Outcome, Error: ev.Error})
}

// ─── Outbox ───────────────────────────────────────────────────────────────────

func (h *Handler) listOutbox(w http.ResponseWriter, r *http.Request) {
	items, err := h.proc.Pending()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if items == nil {
		items = []types.Item{}
	}
	writeJSON(w, http.StatusOK, outboxResp{Count: len(items), Items: items})
}

func (h *Handler) purgeOutbox(w http.ResponseWriter, r *http.Request) {
	n, err := h.proc.Purge()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, purgeResp{Purged: n})
}

func (h *Handler) triggerFlush(w http.ResponseWriter, r *http.Request) {
	err := h.proc.Flush(r.Context())
	switch {
	case errors.Is(err, outbox.ErrFlushInFlight):
		h.countFlush("busy")
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		h.countFlush("failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.countFlush("completed")

	pending, _ := h.proc.Pending()
	writeJSON(w, http.StatusOK, flushResp{Flushed: true, Pending: len(pending)})
}

func (h *Handler) countFlush(result string) {
	if h.flushCtr != nil {
		h.flushCtr(result)
	}
}

// ─── Activity ─────────────────────────────────────────────────────────────────

func (h *Handler) listActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	events := h.log.Recent(limit)
	if events == nil {
		events = []types.Event{}
	}
	writeJSON(w, http.StatusOK, activityResp{Events: events})
}

// ─── Endpoint configuration ───────────────────────────────────────────────────

func (h *Handler) getEndpoint(w http.ResponseWriter, r *http.Request) {
	ep := h.client.Endpoint()
	writeJSON(w, http.StatusOK, endpointResp{URL: ep, Configured: ep != ""})
}

// putEndpoint reconfigures the endpoint for the running process. The change
// is not written back to the config file; set endpoint.url (or
// RELAY_ENDPOINT_URL) to make it stick across restarts.
func (h *Handler) putEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointReq
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.URL != "" {
		u, err := url.Parse(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url must be an absolute http(s) URL"})
			return
		}
	}
	h.client.SetEndpoint(req.URL)
	writeJSON(w, http.StatusOK, endpointResp{URL: req.URL, Configured: req.URL != ""})
}

// ─── Archive ──────────────────────────────────────────────────────────────────

func (h *Handler) listArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusOK, archiveResp{Records: []archive.Record{}})
		return
	}
	records, err := h.archive.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []archive.Record{}
	}
	writeJSON(w, http.StatusOK, archiveResp{Records: records})
}

func (h *Handler) replayArchive(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no archive in ephemeral storage mode"})
		return
	}
	limit := defaultReplayLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	n, err := h.proc.ReplayArchived(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, replayResp{Replayed: n})
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// decodeJSON decodes the request body into v, writing a 400 and returning
// false on malformed input.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}
