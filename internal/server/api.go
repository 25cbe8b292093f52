package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/park285/cheese-live/internal/game"
	"github.com/park285/cheese-live/internal/obslog"
	"github.com/park285/cheese-live/internal/store"
)

const maxBodyBytes = 4 << 10

type createRequest struct {
	BaseTime  *int `json:"baseTime"`
	Increment *int `json:"increment"`
}

type joinRequest struct {
	Code     string `json:"code"`
	PlayerID string `json:"playerId"`
}

// JoinResponse is the body of POST /api/games/join.
type JoinResponse struct {
	Game *game.Session `json:"game"`
	Role game.Role     `json:"role"`
}

type resignRequest struct {
	PlayerID string `json:"playerId"`
	Role     string `json:"role"`
}

type abortRequest struct {
	PlayerID string `json:"playerId"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeBody(r, &req, true); err != nil {
		s.badRequest(w, err)
		return
	}
	g, err := s.coord.Create(r.Context(), req.BaseTime, req.Increment)
	if err != nil {
		s.writeError(w, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.badRequest(w, err)
		return
	}
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if !store.ValidCode(code) {
		s.writeError(w, code, store.ErrNotFound)
		return
	}
	g, role, err := s.coord.Preview(r.Context(), code, req.PlayerID)
	if err != nil {
		s.writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, JoinResponse{Game: g, Role: role})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(mux.Vars(r)["code"])
	g, err := s.coord.Get(r.Context(), code)
	if err != nil {
		s.writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleResign(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(mux.Vars(r)["code"])
	var req resignRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.badRequest(w, err)
		return
	}
	role, ok := game.ParseRole(req.Role)
	if !ok {
		s.badRequest(w, errors.New("role must be a or b"))
		return
	}
	g, err := s.coord.Resign(r.Context(), code, req.PlayerID, role)
	if err != nil {
		s.writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	code := strings.ToUpper(mux.Vars(r)["code"])
	var req abortRequest
	if err := decodeBody(r, &req, false); err != nil {
		s.badRequest(w, err)
		return
	}
	g, err := s.coord.Abort(r.Context(), code, req.PlayerID)
	if err != nil {
		s.writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// decodeBody reads a JSON body; emptyOK allows a missing body.
func decodeBody(r *http.Request, v any, emptyOK bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && emptyOK {
			return nil
		}
		return err
	}
	return nil
}

func statusFor(kind game.Kind) int {
	switch kind {
	case game.KindNotFound:
		return http.StatusNotFound
	case game.KindInvalidMove, game.KindInvalidState:
		return http.StatusBadRequest
	case game.KindOfferLimit:
		return http.StatusConflict
	case game.KindTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, code string, err error) {
	kind := game.KindOf(err)
	if kind == game.KindInternal {
		obslog.L().Error("live_http_failed", zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, statusFor(kind), errorBody{Error: s.cat.ErrorText(code, err), Code: string(kind)})
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	msg := s.cat.Text("errors.bad_request", map[string]any{"Detail": err.Error()})
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Code: "bad_request"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Warn("live_http_encode_failed", zap.Error(err))
	}
}
