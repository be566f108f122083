package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"realtyclaims/auth"
	"realtyclaims/claim"
	"realtyclaims/company"
)

type userResponse struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	DisplayName   string  `json:"displayName"`
	Role          string  `json:"role"`
	CompanyID     *string `json:"companyId,omitempty"`
	EmailVerified bool    `json:"emailVerified"`
	CreatedAt     string  `json:"createdAt"`
}

func newUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		Role:          string(u.Role),
		CompanyID:     u.CompanyID,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt.Format(time.RFC3339),
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	user, err := s.authService.Register(r.Context(), auth.RegisterRequest{
		Email:       body.Email,
		Password:    body.Password,
		DisplayName: body.DisplayName,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	// The account exists either way; a failed link can be requested again.
	if err := s.claimService.ResendVerification(r.Context(), requestContext(r), user.Email); err != nil {
		zap.L().Warn("register: verification link not sent", zap.String("user_id", user.ID), zap.Error(err))
	}

	writeJSON(w, http.StatusCreated, newUserResponse(*user))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := s.authService.Login(r.Context(), auth.LoginRequest{Email: body.Email, Password: body.Password})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: res.Token, User: newUserResponse(res.User)})
}

type companyResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Website   *string `json:"website,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Claimed   bool    `json:"claimed"`
	CreatedAt string  `json:"createdAt"`
}

func newCompanyResponse(c company.Company) companyResponse {
	return companyResponse{
		ID:        c.ID,
		Name:      c.Name,
		Website:   c.Website,
		Email:     c.Email,
		Phone:     c.Phone,
		Claimed:   c.Claimed,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := company.ListFilters{Limit: 20}
	if v := q.Get("claimed"); v != "" {
		claimed, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "claimed must be true or false")
			return
		}
		filters.Claimed = &claimed
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filters.Limit = min(limit, 100)
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filters.Offset = offset
	}

	companies, err := s.companyService.List(r.Context(), filters)
	if err != nil {
		respondError(w, r, err)
		return
	}
	items := make([]companyResponse, 0, len(companies))
	for _, c := range companies {
		items = append(items, newCompanyResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (s *Server) handleCompany(w http.ResponseWriter, r *http.Request) {
	c, err := s.companyService.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCompanyResponse(c))
}

func (s *Server) handleRepresentatives(w http.ResponseWriter, r *http.Request) {
	users, err := s.companyService.Representatives(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	items := make([]userResponse, 0, len(users))
	for _, u := range users {
		items = append(items, newUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type submitClaimRequest struct {
	CompanyID          string `json:"companyId"`
	BusinessEmail      string `json:"businessEmail"`
	SupervisorEmail    string `json:"supervisorEmail"`
	ContactPhone       string `json:"contactPhone"`
	Password           string `json:"password"`
	SupervisorPassword string `json:"supervisorPassword"`
	DisplayName        string `json:"displayName"`
	SupervisorName     string `json:"supervisorName"`
}

type submitClaimResponse struct {
	ClaimID        string `json:"claimId"`
	TrackingNumber string `json:"trackingNumber"`
	Mode           string `json:"mode"`
}

func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	var body submitClaimRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	res, err := s.claimService.Submit(r.Context(), requestContext(r), claim.SubmitParams{
		CompanyID:          body.CompanyID,
		BusinessEmail:      body.BusinessEmail,
		SupervisorEmail:    body.SupervisorEmail,
		ContactPhone:       body.ContactPhone,
		Password:           body.Password,
		SupervisorPassword: body.SupervisorPassword,
		DisplayName:        body.DisplayName,
		SupervisorName:     body.SupervisorName,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitClaimResponse{
		ClaimID:        res.ClaimID,
		TrackingNumber: res.TrackingNumber,
		Mode:           string(res.Mode),
	})
}

type verifyClaimRequest struct {
	Code string `json:"code"`
}

type verifyClaimResponse struct {
	Email    string `json:"email"`
	ClaimID  string `json:"claimId,omitempty"`
	Party    string `json:"party,omitempty"`
	Status   string `json:"status,omitempty"`
	Promoted bool   `json:"promoted"`
}

func (s *Server) handleVerifyClaim(w http.ResponseWriter, r *http.Request) {
	var body verifyClaimRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	res, err := s.claimService.RedeemVerification(r.Context(), requestContext(r), body.Code)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, verifyClaimResponse{
		Email:    res.Email,
		ClaimID:  res.ClaimID,
		Party:    string(res.Party),
		Status:   string(res.Status),
		Promoted: res.Promoted,
	})
}

type resendRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var body resendRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	if err := s.claimService.ResendVerification(r.Context(), requestContext(r), body.Email); err != nil {
		respondError(w, r, err)
		return
	}
	// Same answer whether or not the address is known.
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent_if_pending"})
}

type trackingResponse struct {
	TrackingNumber          string `json:"trackingNumber"`
	CompanyName             string `json:"companyName"`
	Status                  string `json:"status"`
	BusinessEmailVerified   bool   `json:"businessEmailVerified"`
	SupervisorEmailVerified bool   `json:"supervisorEmailVerified"`
	CreatedAt               string `json:"createdAt"`
}

func (s *Server) handleTrackClaim(w http.ResponseWriter, r *http.Request) {
	view, err := s.claimService.Track(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trackingResponse{
		TrackingNumber:          view.TrackingNumber,
		CompanyName:             view.CompanyName,
		Status:                  string(view.Status),
		BusinessEmailVerified:   view.BusinessEmailVerified,
		SupervisorEmailVerified: view.SupervisorEmailVerified,
		CreatedAt:               view.CreatedAt.Format(time.RFC3339),
	})
}
