package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-wpan/internal/wpan"
)

// setPropertyRequest is the body of a property write.
type setPropertyRequest struct {
	Value any `json:"value"`
}

// parseID reads a numeric {id} URL parameter.
func parseID(r *http.Request) (uint32, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint32(id), nil
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.requestTimeout)
}

// handleListPhys returns every PHY in the registry.
func (s *Server) handleListPhys(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"phys": snap.Phys, "count": len(snap.Phys)})
}

// handleGetPhy returns one PHY object with its published properties.
func (s *Server) handleGetPhy(w http.ResponseWriter, r *http.Request) {
	s.describe(w, r, wpan.KindPhy)
}

// handleListInterfaces returns every interface in the registry.
func (s *Server) handleListInterfaces(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	snap, err := s.engine.Snapshot(ctx)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interfaces": snap.Interfaces, "count": len(snap.Interfaces)})
}

// handleGetInterface returns one interface object with its published
// properties.
func (s *Server) handleGetInterface(w http.ResponseWriter, r *http.Request) {
	s.describe(w, r, wpan.KindInterface)
}

func (s *Server) describe(w http.ResponseWriter, r *http.Request, kind wpan.EntityKind) {
	id, err := parseID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	obj, err := s.engine.Describe(ctx, wpan.EntityRef{Kind: kind, ID: id})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// handleSetPhyProperty writes a PHY property and returns the updated object.
//
// A Channel write returns after the kernel answered; a refusal is 409.
func (s *Server) handleSetPhyProperty(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	name := chi.URLParam(r, "name")

	var req setPropertyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ctx, cancel := s.requestContext(r)
	defer cancel()

	ref := wpan.PhyRef(wpan.PhyID(id))
	if err := s.engine.SetProperty(ctx, ref, name, req.Value); err != nil {
		s.logger.Warn("property write rejected",
			"entity", ref.String(),
			"property", name,
			"error", err,
			"request_id", requestID(r.Context()),
		)
		writeEngineError(w, err)
		return
	}

	obj, err := s.engine.Describe(ctx, ref)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}
