// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"grimm.is/flowgate/internal/conntrack"
	"grimm.is/flowgate/internal/errors"
	"grimm.is/flowgate/internal/rpc"
	"grimm.is/flowgate/internal/rules"
)

const (
	defaultFlowLimit = 100
	maxFlowLimit     = 10000
)

// FlowInfo is one tracked connection.
type FlowInfo struct {
	Flow     string  `json:"flow"`
	SrcIP    string  `json:"src_ip"`
	SrcPort  uint16  `json:"src_port"`
	DstIP    string  `json:"dst_ip"`
	DstPort  uint16  `json:"dst_port"`
	Protocol string  `json:"protocol"`
	State    string  `json:"state"`
	Packets  uint64  `json:"packets"`
	AgeSec   float64 `json:"age_seconds"`
	IdleSec  float64 `json:"idle_seconds"`
}

// FlowListResponse answers GET /api/v1/flows.
type FlowListResponse struct {
	Total    int        `json:"total"`
	Capacity int        `json:"capacity"`
	Flows    []FlowInfo `json:"flows"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			s.logger.WithError(err).Warn("Health check failed")
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.opts.Admin.Status()
	respondWithJSON(w, http.StatusOK, rpc.StatusResponse{Status: st.Summary(), Detail: st})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	list, err := s.opts.Admin.ListRules(r.Context())
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	resp := rpc.RuleListResponse{Rules: make([]rpc.RuleInfo, 0, len(list))}
	for _, rule := range list {
		resp.Rules = append(resp.Rules, rpc.NewRuleInfo(rule))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.Config.MaxBodyBytes)

	var spec rules.Spec
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		s.respondWithError(w, errors.Wrap(err, errors.KindValidation, "invalid rule body"))
		return
	}

	rule, err := s.opts.Admin.CreateRule(r.Context(), spec)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, rpc.CreateRuleResponse{
		CreatedRuleID: rule.ID,
		Message:       "rule created",
	})
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.respondWithError(w, errors.Wrap(err, errors.KindValidation, "invalid rule id"))
		return
	}
	if err := s.opts.Admin.DeleteRule(r.Context(), id); err != nil {
		s.respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rpc.DeleteRuleResponse{
		DeletedRuleID: id,
		Message:       "rule deleted",
	})
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	if s.opts.Conns == nil {
		s.respondWithError(w, errors.New(errors.KindUnavailable, "connection table not available"))
		return
	}

	limit := defaultFlowLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.respondWithError(w, errors.Errorf(errors.KindValidation, "invalid limit %q", v))
			return
		}
		limit = min(n, maxFlowLimit)
	}

	now := s.opts.Clock.Nanotime()
	entries := s.opts.Conns.Snapshot(limit)
	resp := FlowListResponse{
		Total:    s.opts.Conns.Len(),
		Capacity: s.opts.Conns.Capacity(),
		Flows:    make([]FlowInfo, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Flows = append(resp.Flows, newFlowInfo(e, now))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func newFlowInfo(e conntrack.Entry, now uint64) FlowInfo {
	k, v := e.Key, e.Value
	proto := "tcp"
	if k.Proto == conntrack.ProtoUDP {
		proto = "udp"
	}
	return FlowInfo{
		Flow:     k.String(),
		SrcIP:    conntrack.IPString(k.SrcIP),
		SrcPort:  k.SrcPort,
		DstIP:    conntrack.IPString(k.DstIP),
		DstPort:  k.DstPort,
		Protocol: proto,
		State:    v.State.String(),
		Packets:  v.Packets,
		AgeSec:   since(v.Created, now),
		IdleSec:  since(v.LastSeen, now),
	}
}

func since(t, now uint64) float64 {
	if now <= t {
		return 0
	}
	return time.Duration(now - t).Seconds()
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) respondWithError(w http.ResponseWriter, err error) {
	kind := errors.GetKind(err)
	code := httpStatus(kind)
	if code >= http.StatusInternalServerError {
		s.logger.WithError(err).Warn("API request failed", "kind", kind.String())
	}
	respondWithJSON(w, code, ErrorResponse{Error: err.Error(), Kind: kind.String()})
}

func httpStatus(k errors.Kind) int {
	switch k {
	case errors.KindValidation:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindCapacity:
		return http.StatusInsufficientStorage
	case errors.KindStorage, errors.KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
