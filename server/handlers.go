package server

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hamba/pkg/log"
	"github.com/nrwiersma/workchain/chainfile"
	"github.com/nrwiersma/workchain/work"
)

const maxDefinitionSize = 1 << 20

type handlers struct {
	orch Orchestrator
	log  log.Logger
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	JobID  string            `json:"job_id"`
	Chain  string            `json:"chain"`
	Stage  int               `json:"stage"`
	Kind   string            `json:"kind"`
	State  string            `json:"state"`
	Tags   []string          `json:"tags,omitempty"`
	Output map[string]string `json:"output,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type chainResponse struct {
	ID     string           `json:"id"`
	Name   string           `json:"name"`
	Policy string           `json:"policy"`
	State  string           `json:"state"`
	Jobs   []statusResponse `json:"jobs"`
}

type submitResponse struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	JobIDs []string `json:"job_ids"`
}

// Health handles GET /health.
func (h *handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// SubmitChain handles POST /chains with a yaml chain definition.
func (h *handlers) SubmitChain(w http.ResponseWriter, r *http.Request) {
	b, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, maxDefinitionSize))
	if err != nil {
		h.httpError(w, "could not read definition", http.StatusBadRequest)
		return
	}

	def, err := chainfile.Parse(b)
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}
	c, err := def.Chain()
	if err != nil {
		h.httpError(w, err.Error(), http.StatusBadRequest)
		return
	}

	handle, err := h.orch.Submit(c)
	if err != nil {
		h.httpError(w, err.Error(), errorStatus(err))
		return
	}

	h.respondJSON(w, http.StatusCreated, submitResponse{
		ID:     handle.ID,
		Name:   handle.Name,
		JobIDs: handle.JobIDs,
	})
}

// ListChains handles GET /chains.
func (h *handlers) ListChains(w http.ResponseWriter, _ *http.Request) {
	infos, err := h.orch.Chains()
	if err != nil {
		h.httpError(w, err.Error(), errorStatus(err))
		return
	}

	resp := make([]chainResponse, 0, len(infos))
	for _, info := range infos {
		resp = append(resp, chainView(info))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// GetChain handles GET /chains/{name}.
func (h *handlers) GetChain(w http.ResponseWriter, r *http.Request) {
	info, err := h.orch.Chain(chi.URLParam(r, "name"))
	if err != nil {
		h.httpError(w, err.Error(), errorStatus(err))
		return
	}

	h.respondJSON(w, http.StatusOK, chainView(info))
}

// CancelChain handles DELETE /chains/{name}.
func (h *handlers) CancelChain(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.orch.Cancel(name); err != nil {
		h.httpError(w, err.Error(), errorStatus(err))
		return
	}

	h.log.Info("server: chain cancelled", "chain", name)
	w.WriteHeader(http.StatusNoContent)
}

// Prune handles POST /prune.
func (h *handlers) Prune(w http.ResponseWriter, _ *http.Request) {
	n, err := h.orch.Prune()
	if err != nil {
		h.httpError(w, err.Error(), errorStatus(err))
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]int{"pruned": n})
}

// ListJobs handles GET /jobs?tag=.
func (h *handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		h.httpError(w, "tag is required", http.StatusBadRequest)
		return
	}

	statuses, err := h.orch.Statuses(tag)
	if err != nil {
		h.httpError(w, err.Error(), errorStatus(err))
		return
	}
	h.respondJSON(w, http.StatusOK, statusViews(statuses))
}

// WatchJobs handles GET /jobs/watch?tag=, streaming a json snapshot per
// line until the client goes away.
func (h *handlers) WatchJobs(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		h.httpError(w, "tag is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.httpError(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for snap := range h.orch.Subscribe(r.Context(), tag) {
		if err := enc.Encode(statusViews(snap)); err != nil {
			h.log.Debug("server: watch client gone", "tag", tag, "error", err)
			return
		}
		flusher.Flush()
	}
}

func (h *handlers) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("server: could not write response", "error", err)
	}
}

func (h *handlers) httpError(w http.ResponseWriter, msg string, status int) {
	h.respondJSON(w, status, errorResponse{Error: msg})
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, work.ErrInvalidArgument), errors.Is(err, work.ErrEmptyChain):
		return http.StatusBadRequest
	case errors.Is(err, work.ErrUnknownChain):
		return http.StatusNotFound
	case errors.Is(err, work.ErrDuplicateChainName):
		return http.StatusConflict
	case errors.Is(err, work.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func chainView(info work.ChainInfo) chainResponse {
	return chainResponse{
		ID:     info.ID,
		Name:   info.Name,
		Policy: info.Policy.String(),
		State:  info.State.String(),
		Jobs:   statusViews(info.Jobs),
	}
}

func statusViews(statuses []work.Status) []statusResponse {
	views := make([]statusResponse, 0, len(statuses))
	for _, st := range statuses {
		var out map[string]string
		if len(st.Output) > 0 {
			out = make(map[string]string, len(st.Output))
			for k := range st.Output {
				out[k] = st.Output.String(k)
			}
		}

		views = append(views, statusResponse{
			JobID:  st.JobID,
			Chain:  st.ChainName,
			Stage:  st.Stage,
			Kind:   string(st.Kind),
			State:  st.State.String(),
			Tags:   st.Tags,
			Output: out,
			Error:  st.Error,
		})
	}
	return views
}
