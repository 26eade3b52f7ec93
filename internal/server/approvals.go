package server

import (
	"net/http"

	"github.com/tkingovr/agent-governor/api"
	"github.com/tkingovr/agent-governor/internal/approval"
	"github.com/tkingovr/agent-governor/internal/governor"
	"github.com/tkingovr/agent-governor/internal/hooks"
)

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.gov.Pending(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if pending == nil {
		pending = []*approval.Request{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, true)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	s.resolve(w, r, false)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, approved bool) {
	who, err := actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req api.ApprovalDecisionRequest
	if err := decodeBody(r, schemaApprovalDecision, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.gov.Resume(r.Context(), r.PathValue("token"), approval.Decision{
		Approved: approved,
		Actor:    who,
		Reason:   req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resumeResponse(res))
}

func resumeResponse(res *governor.Resumed) api.ResumeResponse {
	out := api.ResumeResponse{RunID: res.Run.Agent.RunID}
	if res.Call != nil {
		out.Tool = res.Call.Name
		out.Params = res.Call.Params
	}
	switch o := res.Outcome.(type) {
	case hooks.Proceed:
		out.Outcome = "proceed"
	case hooks.Rejected:
		out.Outcome = "rejected"
		out.Hook = o.Hook
		out.Reason = o.Reason
	case hooks.Suspended:
		out.Outcome = "suspended"
		out.Hook = o.Hook
		out.Reason = o.Message
		out.ResumeToken = o.ResumeToken
		out.ApprovalID = o.ApprovalID
		expires := o.ExpiresAt
		out.ExpiresAt = &expires
	}
	return out
}
