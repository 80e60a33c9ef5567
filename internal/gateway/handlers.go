package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/crucial/internal/canvas"
	"github.com/haasonsaas/crucial/internal/dispatch"
)

const maxBodyBytes = 8 << 20

var errEmptyBody = errors.New("empty body")

type dispatchResponse struct {
	Status string           `json:"status"`
	Result *dispatch.Result `json:"result"`
}

type createResponse struct {
	Status   string         `json:"status"`
	CanvasID string         `json:"canvas_id"`
	HumanID  string         `json:"human_id"`
	Metadata *canvas.Canvas `json:"metadata"`
}

type loadRequest struct {
	History []canvas.HistoryEntry `json:"history"`
}

type loadResponse struct {
	Status        string `json:"status"`
	CanvasID      string `json:"canvas_id"`
	ActionsLoaded int    `json:"actions_loaded"`
}

type registryResponse struct {
	Modules any `json:"modules"`
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatch.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Action == "create" {
		status = http.StatusCreated
	}
	writeJSON(w, status, dispatchResponse{Status: "ok", Result: result})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	params := map[string]any{}
	// An empty body creates a canvas with the configured defaults.
	if err := decodeBody(w, r, &params); err != nil && !errors.Is(err, errEmptyBody) {
		s.writeError(w, r, err)
		return
	}
	result, err := s.dispatcher.Dispatch(r.Context(), dispatch.Request{Action: "create", Params: params})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		Status:   "created",
		CanvasID: result.CanvasID,
		HumanID:  result.HumanID,
		Metadata: result.Canvas,
	})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := s.manager.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.manager.Get(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	entries := []canvas.HistoryEntry{}
	for action, err := range s.manager.Replay(r.Context(), id) {
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		entries = append(entries, action.Entry())
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	for i, entry := range req.History {
		name := strings.TrimSpace(entry.Action)
		if _, ok := s.registry.Get(name); name != "" && !ok {
			s.writeError(w, r, canvas.ValidationFailed("load", fmt.Sprintf("history entry %d: unknown action %q", i, name), nil))
			return
		}
	}
	id, err := s.resolve(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loaded, err := s.manager.LoadFromLog(r.Context(), id, req.History)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{Status: "loaded", CanvasID: id, ActionsLoaded: loaded})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, registryResponse{Modules: s.registry.Modules()})
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".json")
	if !ok {
		s.writeError(w, r, canvas.NotFound("schema", "schema files end in .json"))
		return
	}
	raw, ok := s.registry.Raw(name)
	if !ok {
		s.writeError(w, r, canvas.NotFound("schema", "unknown action %q", name))
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw) //nolint:errcheck
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"actions": len(s.registry.Names()),
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// resolve maps the {id} path value to a canonical canvas id.
func (s *Server) resolve(r *http.Request) (string, error) {
	identifier := strings.TrimSpace(r.PathValue("id"))
	if identifier == "" {
		return "", canvas.ValidationFailed("resolve", "canvas id is required", nil)
	}
	id, err := s.manager.Resolve(r.Context(), identifier)
	if err != nil {
		return "", err
	}
	return id, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return canvas.ValidationFailed("decode request", "request body is empty", errEmptyBody)
		}
		return canvas.ValidationFailed("decode request", fmt.Sprintf("invalid JSON body: %v", err), err)
	}
	return nil
}
