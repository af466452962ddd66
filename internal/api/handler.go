package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Handler exposes the Service over HTTP.
type Handler struct {
	svc *Service
	hub *Hub
	log zerolog.Logger
	mux *http.ServeMux
}

// NewHandler routes the device API; hub may be nil to disable the event stream.
func NewHandler(svc *Service, hub *Hub, log zerolog.Logger) *Handler {
	h := &Handler{svc: svc, hub: hub, log: log, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /devices", h.list)
	h.mux.HandleFunc("GET /devices/sync-status", h.status)
	h.mux.HandleFunc("POST /devices/register", h.register)
	h.mux.HandleFunc("POST /devices/sync-all", h.syncAll)
	h.mux.HandleFunc("POST /devices/discover", h.discover)
	h.mux.HandleFunc("GET /devices/{id}", h.get)
	h.mux.HandleFunc("GET /devices/{id}/history", h.history)
	h.mux.HandleFunc("POST /devices/{id}/sync", h.sync)
	h.mux.HandleFunc("DELETE /devices/{id}", h.remove)
	if hub != nil {
		h.mux.Handle("GET /devices/events", hub)
	}
	h.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return h
}

// Mount adds another handler, such as /metrics, to the same mux.
func (h *Handler) Mount(pattern string, handler http.Handler) { h.mux.Handle(pattern, handler) }

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) { h.mux.ServeHTTP(w, r) }

type forceBody struct {
	Force bool `json:"force"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.List(r.Context())
	h.reply(w, r, out, err)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Get(r.Context(), r.PathValue("id"))
	h.reply(w, r, out, err)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Status(r.Context())
	h.reply(w, r, out, err)
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req, true); err != nil {
		h.reply(w, r, nil, err)
		return
	}
	out, err := h.svc.Register(r.Context(), req)
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.write(w, r, http.StatusCreated, OK(out))
}

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	force, err := forceFlag(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	out, err := h.svc.Sync(r.Context(), r.PathValue("id"), force)
	if err != nil && out.ID != "" {
		// the push failed but the attempt was settled; return the record with the error
		h.fail(w, r, err, out)
		return
	}
	h.reply(w, r, out, err)
}

func (h *Handler) syncAll(w http.ResponseWriter, r *http.Request) {
	force, err := forceFlag(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	out, err := h.svc.SyncAll(r.Context(), force)
	h.reply(w, r, out, err)
}

func (h *Handler) discover(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Discover(r.Context())
	h.reply(w, r, out, err)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	force, err := forceFlag(r)
	if err != nil {
		h.reply(w, r, nil, err)
		return
	}
	out, err := h.svc.Remove(r.Context(), r.PathValue("id"), force)
	h.reply(w, r, out, err)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.reply(w, r, nil, fmt.Errorf("%w: limit must be a non-negative integer", errInvalidRequest))
			return
		}
		limit = n
	}
	out, err := h.svc.History(r.Context(), r.PathValue("id"), limit)
	h.reply(w, r, out, err)
}

// reply renders data on success and only the error on failure.
func (h *Handler) reply(w http.ResponseWriter, r *http.Request, data any, err error) {
	if err != nil {
		h.fail(w, r, err, nil)
		return
	}
	h.write(w, r, http.StatusOK, OK(data))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, data any) {
	resp := Fail(err, data)
	status := HTTPStatus(resp.Error.Code)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	h.write(w, r, status, resp)
}

func (h *Handler) write(w http.ResponseWriter, r *http.Request, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("write response")
	}
}

// forceFlag reads force from the query string or an optional JSON body.
func forceFlag(r *http.Request) (bool, error) {
	if raw := r.URL.Query().Get("force"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("%w: force must be a boolean", errInvalidRequest)
		}
		return v, nil
	}
	var body forceBody
	if err := decodeBody(r, &body, false); err != nil {
		return false, err
	}
	return body.Force, nil
}

func decodeBody(r *http.Request, v any, required bool) error {
	if r.Body == nil {
		if required {
			return fmt.Errorf("%w: request body is required", errInvalidRequest)
		}
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && !required {
			return nil
		}
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}
