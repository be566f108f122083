package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"realtyclaims/claim"
	"realtyclaims/report"
)

type claimResponse struct {
	ID                      string  `json:"id"`
	CompanyID               string  `json:"companyId"`
	CompanyName             string  `json:"companyName"`
	TrackingNumber          string  `json:"trackingNumber"`
	BusinessEmail           string  `json:"businessEmail"`
	SupervisorEmail         string  `json:"supervisorEmail"`
	BusinessEmailVerified   bool    `json:"businessEmailVerified"`
	SupervisorEmailVerified bool    `json:"supervisorEmailVerified"`
	Mode                    string  `json:"mode"`
	Status                  string  `json:"status"`
	UserID                  *string `json:"userId,omitempty"`
	SupervisorID            *string `json:"supervisorId,omitempty"`
	ContactPhone            *string `json:"contactPhone,omitempty"`
	Notes                   *string `json:"notes,omitempty"`
	CreatedAt               string  `json:"createdAt"`
	UpdatedAt               string  `json:"updatedAt"`
}

func newClaimResponse(req claim.Request) claimResponse {
	return claimResponse{
		ID:                      req.ID,
		CompanyID:               req.CompanyID,
		CompanyName:             req.CompanyName,
		TrackingNumber:          req.TrackingNumber,
		BusinessEmail:           req.BusinessEmail,
		SupervisorEmail:         req.SupervisorEmail,
		BusinessEmailVerified:   req.BusinessEmailVerified,
		SupervisorEmailVerified: req.SupervisorEmailVerified,
		Mode:                    string(req.Mode()),
		Status:                  string(req.Status),
		UserID:                  req.UserID,
		SupervisorID:            req.SupervisorID,
		ContactPhone:            req.ContactPhone,
		Notes:                   req.Notes,
		CreatedAt:               req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:               req.UpdatedAt.Format(time.RFC3339),
	}
}

type claimListResponse struct {
	Items    []claimResponse `json:"items"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

func (s *Server) handleAdminClaims(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := claim.Filters{
		Status:    claim.Status(q.Get("status")),
		CompanyID: q.Get("companyId"),
	}
	switch filters.Status {
	case "", claim.StatusPending, claim.StatusApproved, claim.StatusRejected:
	default:
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}
	var ok bool
	if filters.Page, ok = queryInt(w, q.Get("page"), "page"); !ok {
		return
	}
	if filters.PageSize, ok = queryInt(w, q.Get("pageSize"), "pageSize"); !ok {
		return
	}

	res, err := s.claimService.List(r.Context(), requestContext(r), filters)
	if err != nil {
		respondError(w, r, err)
		return
	}
	items := make([]claimResponse, 0, len(res.Items))
	for _, req := range res.Items {
		items = append(items, newClaimResponse(req))
	}
	writeJSON(w, http.StatusOK, claimListResponse{Items: items, Total: res.Total, Page: res.Page, PageSize: res.PageSize})
}

func queryInt(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}

func (s *Server) handleAdminClaim(w http.ResponseWriter, r *http.Request) {
	req, err := s.claimService.Get(r.Context(), requestContext(r), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(req))
}

func (s *Server) handleAdminDeleteClaim(w http.ResponseWriter, r *http.Request) {
	req, err := s.claimService.Delete(r.Context(), requestContext(r), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(req))
}

type approveRequest struct {
	Password string `json:"password"`
	Notes    string `json:"notes"`
}

func (s *Server) handleAdminApprove(w http.ResponseWriter, r *http.Request) {
	var body approveRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}

	req, err := s.claimService.Approve(r.Context(), requestContext(r), chi.URLParam(r, "id"), claim.ApproveParams{
		Password: body.Password,
		Notes:    body.Notes,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(req))
}

type rejectRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleAdminReject(w http.ResponseWriter, r *http.Request) {
	var body rejectRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &body) {
		return
	}

	req, err := s.claimService.Reject(r.Context(), requestContext(r), chi.URLParam(r, "id"), body.Notes)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(req))
}

type forceVerifyRequest struct {
	Party string `json:"party"`
}

func (s *Server) handleAdminForceVerify(w http.ResponseWriter, r *http.Request) {
	var body forceVerifyRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	party := claim.Party(body.Party)
	if party != claim.PartyBusiness && party != claim.PartySupervisor {
		writeError(w, http.StatusBadRequest, "party must be business or supervisor")
		return
	}

	req, err := s.claimService.ForceVerify(r.Context(), requestContext(r), chi.URLParam(r, "id"), party)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(req))
}

func (s *Server) handleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	req, err := s.claimService.Reconcile(r.Context(), requestContext(r), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newClaimResponse(req))
}

type reportResponse struct {
	ID         string  `json:"id"`
	CompanyID  string  `json:"companyId"`
	ReporterID *string `json:"reporterId,omitempty"`
	Reason     string  `json:"reason"`
	Status     string  `json:"status"`
	ResolvedBy *string `json:"resolvedBy,omitempty"`
	CreatedAt  string  `json:"createdAt"`
	UpdatedAt  string  `json:"updatedAt"`
	ResolvedAt *string `json:"resolvedAt,omitempty"`
}

func newReportResponse(rep report.Report) reportResponse {
	resp := reportResponse{
		ID:         rep.ID,
		CompanyID:  rep.CompanyID,
		ReporterID: rep.ReporterID,
		Reason:     rep.Reason,
		Status:     string(rep.Status),
		ResolvedBy: rep.ResolvedBy,
		CreatedAt:  rep.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  rep.UpdatedAt.Format(time.RFC3339),
	}
	if rep.ResolvedAt != nil {
		formatted := rep.ResolvedAt.Format(time.RFC3339)
		resp.ResolvedAt = &formatted
	}
	return resp
}

type createReportRequest struct {
	CompanyID string `json:"companyId"`
	Reason    string `json:"reason"`
}

func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var body createReportRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "companyId is required")
		return
	}

	rep, err := s.reportService.Create(r.Context(), userIDFrom(r.Context()), body.CompanyID, body.Reason)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newReportResponse(rep))
}

func (s *Server) handleAdminReports(w http.ResponseWriter, r *http.Request) {
	status := report.Status(r.URL.Query().Get("status"))
	switch status {
	case "", report.StatusUnderReview, report.StatusResolved:
	default:
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	reports, err := s.reportService.List(r.Context(), requestContext(r).IsAdmin(), status)
	if err != nil {
		respondError(w, r, err)
		return
	}
	items := make([]reportResponse, 0, len(reports))
	for _, rep := range reports {
		items = append(items, newReportResponse(rep))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type resolveReportRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleAdminResolveReport(w http.ResponseWriter, r *http.Request) {
	var body resolveReportRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if report.Status(body.Status) != report.StatusResolved {
		writeError(w, http.StatusBadRequest, "status must be resolved")
		return
	}

	rc := requestContext(r)
	rep, err := s.reportService.Resolve(r.Context(), rc.ActorID, rc.IsAdmin(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newReportResponse(rep))
}
