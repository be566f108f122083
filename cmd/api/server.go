package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"

	"realtyclaims/auth"
	"realtyclaims/claim"
	"realtyclaims/company"
	"realtyclaims/report"
	"realtyclaims/verification"
)

type contextKey string

const (
	ctxKeyUserID contextKey = "userID"
	ctxKeyRole   contextKey = "role"
)

type claimService interface {
	Submit(ctx context.Context, rc claim.RequestContext, p claim.SubmitParams) (claim.SubmitResult, error)
	RedeemVerification(ctx context.Context, rc claim.RequestContext, code string) (claim.VerificationResult, error)
	ResendVerification(ctx context.Context, rc claim.RequestContext, email string) error
	Track(ctx context.Context, number string) (claim.TrackingView, error)
	Get(ctx context.Context, rc claim.RequestContext, id string) (claim.Request, error)
	List(ctx context.Context, rc claim.RequestContext, filters claim.Filters) (claim.ListResult, error)
	Approve(ctx context.Context, rc claim.RequestContext, id string, p claim.ApproveParams) (claim.Request, error)
	Reject(ctx context.Context, rc claim.RequestContext, id, notes string) (claim.Request, error)
	Delete(ctx context.Context, rc claim.RequestContext, id string) (claim.Request, error)
	ForceVerify(ctx context.Context, rc claim.RequestContext, id string, party claim.Party) (claim.Request, error)
	Reconcile(ctx context.Context, rc claim.RequestContext, id string) (claim.Request, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Claims, error)
}

type companyService interface {
	GetByID(ctx context.Context, id string) (company.Company, error)
	List(ctx context.Context, filters company.ListFilters) ([]company.Company, error)
	Representatives(ctx context.Context, companyID string) ([]auth.User, error)
}

type reportService interface {
	List(ctx context.Context, isAdmin bool, status report.Status) ([]report.Report, error)
	Create(ctx context.Context, reporterID, companyID, reason string) (report.Report, error)
	Resolve(ctx context.Context, adminID string, isAdmin bool, id string) (report.Report, error)
}

// Server is the HTTP front of the claim workflow.
type Server struct {
	claimService   claimService
	authService    authService
	companyService companyService
	reportService  reportService
	allowedOrigins []string
	limiter        *clientLimiter
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	Claims         claimService
	Auth           authService
	Companies      companyService
	Reports        reportService
	AllowedOrigins []string
	TrackPerMinute float64
	TrackBurst     int
}

func NewServer(opts ServerOptions) *Server {
	return &Server{
		claimService:   opts.Claims,
		authService:    opts.Auth,
		companyService: opts.Companies,
		reportService:  opts.Reports,
		allowedOrigins: opts.AllowedOrigins,
		limiter:        newClientLimiter(rate.Limit(opts.TrackPerMinute/60), opts.TrackBurst),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.authenticate)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Get("/companies", s.handleCompanies)
		r.Get("/companies/{id}", s.handleCompany)
		r.Get("/companies/{id}/representatives", s.handleRepresentatives)

		r.Post("/claims", s.handleSubmitClaim)
		r.Post("/claims/verify", s.handleVerifyClaim)
		r.With(s.rateLimited).Post("/claims/resend", s.handleResendVerification)
		r.With(s.rateLimited).Get("/claims/track/{number}", s.handleTrackClaim)

		r.With(s.requireUser).Post("/reports", s.handleCreateReport)

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/claims", s.handleAdminClaims)
			r.Get("/claims/{id}", s.handleAdminClaim)
			r.Delete("/claims/{id}", s.handleAdminDeleteClaim)
			r.Post("/claims/{id}/approve", s.handleAdminApprove)
			r.Post("/claims/{id}/reject", s.handleAdminReject)
			r.Post("/claims/{id}/verify", s.handleAdminForceVerify)
			r.Post("/claims/{id}/reconcile", s.handleAdminReconcile)
			r.Get("/reports", s.handleAdminReports)
			r.Patch("/reports/{id}", s.handleAdminResolveReport)
		})
	})

	return r
}

// authenticate attaches the bearer token identity when one is present.
// Anonymous requests pass through; a bad token is rejected.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		claims, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxKeyRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userIDFrom(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userIDFrom(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if roleFrom(r.Context()) != auth.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.allow(clientKey(r)) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

func roleFrom(ctx context.Context) auth.Role {
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return role
}

// requestContext builds the workflow caller identity for r.
func requestContext(r *http.Request) claim.RequestContext {
	return claim.RequestContext{
		ActorID: userIDFrom(r.Context()),
		Role:    roleFrom(r.Context()),
		Locale:  localeFrom(r),
	}
}

// localeFrom picks the base language of the preferred Accept-Language tag.
func localeFrom(r *http.Request) string {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return ""
	}
	base, _ := tags[0].Base()
	return base.String()
}

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*limiterEntry
	now     func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const limiterIdleTTL = 10 * time.Minute

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if limit <= 0 {
		limit = rate.Limit(20.0 / 60)
	}
	if burst <= 0 {
		burst = 5
	}
	return &clientLimiter{limit: limit, burst: burst, clients: make(map[string]*limiterEntry), now: time.Now}
}

func (l *clientLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = entry
	}
	entry.lastSeen = now
	l.evict(now)
	return entry.limiter.AllowN(now, 1)
}

func (l *clientLimiter) evict(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.clients, key)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorResponse struct {
	Error  string `json:"error"`
	Action string `json:"action,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("http: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondError maps workflow errors onto HTTP statuses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case claim.IsValidation(err),
		errors.Is(err, claim.ErrCredentialsRequired),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidEmail),
		errors.Is(err, report.ErrEmptyReason):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case verification.IsRecoverable(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: rootMessage(err), Action: "request_new_link"})
	case errors.Is(err, claim.ErrNotFound),
		errors.Is(err, company.ErrNotFound),
		errors.Is(err, report.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, claim.ErrForbidden), errors.Is(err, report.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, rootMessage(err))
	case errors.Is(err, claim.ErrInvalidTransition),
		errors.Is(err, claim.ErrAlreadyApproved),
		errors.Is(err, claim.ErrAlreadyRejected),
		errors.Is(err, claim.ErrCompanyAlreadyClaimed),
		errors.Is(err, claim.ErrEmailInUse),
		errors.Is(err, claim.ErrTrackingNumberTaken),
		errors.Is(err, auth.ErrDuplicateEmail),
		errors.Is(err, report.ErrBadStatus):
		writeError(w, http.StatusConflict, rootMessage(err))
	case errors.Is(err, claim.ErrDispatchFailed):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, rootMessage(err))
	default:
		zap.L().Error("http: unhandled error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rootMessage returns the sentinel text without wrapping context, so
// internals never leak into responses.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}
