package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tkingovr/agent-governor/api"
	"github.com/tkingovr/agent-governor/internal/guard"
	"github.com/tkingovr/agent-governor/internal/outputguard"
	"github.com/tkingovr/agent-governor/internal/toolpolicy"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"revision": s.revisions.CurrentRevision(),
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := s.admin.GetPolicy(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.ToolPolicyRequest
	if err := decodeBody(r, schemaToolPolicy, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	saved, err := s.admin.SavePolicy(r.Context(), who, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.admin.DeletePolicy(r.Context(), who); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvaluateTool(w http.ResponseWriter, r *http.Request) {
	var req api.ToolEvaluateRequest
	if err := decodeBody(r, schemaToolEvaluate, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := r.Context()
	resp := api.ToolEvaluateResponse{
		WriteTool:        s.tools.IsWriteTool(ctx, req.Tool),
		RequiresApproval: s.tools.RequiresApproval(ctx, req.Tool, req.Args),
	}
	switch d := s.tools.Evaluate(ctx, req.Channel, req.Tool).(type) {
	case toolpolicy.Allow:
		resp.Decision = "allow"
	case toolpolicy.Deny:
		resp.Decision = "deny"
		resp.Reason = d.Reason
		resp.RequiresApproval = false
	default:
		s.writeError(w, r, fmt.Errorf("unknown tool decision %T", d))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.admin.ListRules(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rules == nil {
		rules = []outputguard.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.admin.GetRule(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func ruleFromRequest(req api.RuleRequest) outputguard.Rule {
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	return outputguard.Rule{
		Name:     req.Name,
		Pattern:  req.Pattern,
		Action:   req.Action,
		Enabled:  enabled,
		Priority: req.Priority,
	}
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.RuleRequest
	if err := decodeBody(r, schemaRule, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.admin.CreateRule(r.Context(), who, ruleFromRequest(req))
	if err != nil && created == nil {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("rule created without audit entry", "rule_id", created.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.RuleRequest
	if err := decodeBody(r, schemaRule, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	rule := ruleFromRequest(req)
	rule.ID = r.PathValue("id")
	updated, err := s.admin.UpdateRule(r.Context(), who, rule)
	if err != nil && updated == nil {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.logger.Warn("rule updated without audit entry", "rule_id", updated.ID, "error", err)
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.admin.DeleteRule(r.Context(), who, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.SimulateRequest
	if err := decodeBody(r, schemaSimulate, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	ev, err := s.admin.Simulate(r.Context(), who, req.Content, req.Rules)
	if err != nil && ev == nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := api.AuditQuery{
		RuleID: q.Get("rule_id"),
		Action: api.AuditAction(q.Get("action")),
		Actor:  q.Get("actor"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, r, &requestError{status: http.StatusBadRequest, msg: "limit must be an integer"})
			return
		}
		query.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.writeError(w, r, &requestError{status: http.StatusBadRequest, msg: "since must be an RFC 3339 timestamp"})
			return
		}
		query.Since = t
	}

	entries, err := s.admin.QueryAudit(r.Context(), query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.AuditStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.admin.SubscribeAudit(r.Context())
	defer cancel()

	for {
		select {
		case entry, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(entry)
			if err != nil {
				s.logger.Warn("encoding audit event", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %s\nevent: audit\ndata: %s\n\n", entry.ID, data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleGuardCheck(w http.ResponseWriter, r *http.Request) {
	var req api.GuardCheckRequest
	if err := decodeBody(r, schemaGuardCheck, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	res := s.gov.Admit(r.Context(), guard.Command{
		UserID:   req.UserID,
		Text:     req.Text,
		Channel:  req.Channel,
		Metadata: req.Metadata,
	})

	var resp api.GuardCheckResponse
	switch v := res.(type) {
	case guard.Allowed:
		resp.Allowed = true
		resp.Hints = v.Hints
	case guard.Rejected:
		resp.Reason = v.Reason
		resp.Category = string(v.Category)
		resp.Stage = v.Stage
	default:
		s.writeError(w, r, fmt.Errorf("unknown guard result %T", res))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
