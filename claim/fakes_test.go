package claim

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"realtyclaims/auth"
	"realtyclaims/company"
	"realtyclaims/outbox"
	"realtyclaims/verification"
)

type memEvent struct {
	claimID string
	kind    string
	payload map[string]any
}

// memRepo is an in-memory Repository. Conditional updates are atomic under
// mu, which is all the workflow relies on.
type memRepo struct {
	mu         sync.Mutex
	claims     map[string]Request
	creds      map[string]Credentials
	events     []memEvent
	collisions int
	inserts    int
}

func newMemRepo() *memRepo {
	return &memRepo{claims: map[string]Request{}, creds: map[string]Credentials{}}
}

func (m *memRepo) Insert(_ context.Context, _ pgx.Tx, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	if m.collisions > 0 {
		m.collisions--
		return Request{}, ErrTrackingNumberTaken
	}
	for _, existing := range m.claims {
		if existing.TrackingNumber == req.TrackingNumber {
			return Request{}, ErrTrackingNumberTaken
		}
	}
	m.claims[req.ID] = req
	return req, nil
}

func (m *memRepo) Get(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.claims[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (Request, error) {
	return m.Get(ctx, id)
}

func (m *memRepo) GetByTrackingNumber(_ context.Context, number string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.claims {
		if req.TrackingNumber == number {
			return req, nil
		}
	}
	return Request{}, ErrNotFound
}

func (m *memRepo) FindByEmail(_ context.Context, _ pgx.Tx, party Party, email string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []Request
	for _, req := range m.claims {
		if req.Email(party) == email && req.Status == StatusPending {
			found = append(found, req)
		}
	}
	if len(found) == 0 {
		return Request{}, ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.After(found[j].CreatedAt) })
	return found[0], nil
}

func (m *memRepo) MarkVerified(_ context.Context, _ pgx.Tx, id string, party Party, at time.Time) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.claims[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if !req.Verified(party) {
		if party == PartyBusiness {
			req.BusinessEmailVerified = true
		} else {
			req.SupervisorEmailVerified = true
		}
		req.UpdatedAt = at
	}
	m.claims[id] = req
	return req, nil
}

func (m *memRepo) CompareAndSetStatus(_ context.Context, _ pgx.Tx, id string, from, to Status, notes *string, at time.Time) (Request, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.claims[id]
	if !ok || req.Status != from {
		return Request{}, false, nil
	}
	req.Status = to
	if notes != nil {
		req.Notes = notes
	}
	req.UpdatedAt = at
	m.claims[id] = req
	return req, true, nil
}

func (m *memRepo) LinkAccounts(_ context.Context, _ pgx.Tx, id string, userID, supervisorID *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req := m.claims[id]
	if userID != nil {
		req.UserID = userID
	}
	if supervisorID != nil {
		req.SupervisorID = supervisorID
	}
	m.claims[id] = req
	return nil
}

func (m *memRepo) List(_ context.Context, filters Filters) ([]Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Request
	for _, req := range m.claims {
		if filters.Status != "" && req.Status != filters.Status {
			continue
		}
		if filters.CompanyID != "" && req.CompanyID != filters.CompanyID {
			continue
		}
		all = append(all, req)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	start := (filters.Page - 1) * filters.PageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + filters.PageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], len(all), nil
}

func (m *memRepo) Delete(_ context.Context, _ pgx.Tx, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.claims[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	delete(m.claims, id)
	delete(m.creds, id)
	return req, nil
}

func (m *memRepo) SaveCredentials(_ context.Context, _ pgx.Tx, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[creds.ClaimID] = creds
	return nil
}

func (m *memRepo) GetCredentials(_ context.Context, _ pgx.Tx, claimID string) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.creds[claimID]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	return c, nil
}

func (m *memRepo) DeleteCredentials(_ context.Context, _ pgx.Tx, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.creds, claimID)
	return nil
}

func (m *memRepo) AppendEvent(_ context.Context, _ pgx.Tx, claimID, eventType string, _ *string, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, memEvent{claimID: claimID, kind: eventType, payload: payload})
	return nil
}

func (m *memRepo) countEvents(claimID, kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.claimID == claimID && ev.kind == kind {
			n++
		}
	}
	return n
}

type memAccounts struct {
	mu         sync.Mutex
	users      map[string]auth.User
	seq        int
	promotions []string
}

func newMemAccounts() *memAccounts {
	return &memAccounts{users: map[string]auth.User{}}
}

func (m *memAccounts) add(u auth.User) auth.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[strings.ToLower(u.Email)] = u
	return u
}

func (m *memAccounts) byEmail(email string) (auth.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(email)]
	return u, ok
}

func (m *memAccounts) promotionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.promotions)
}

func (m *memAccounts) FindByEmailTx(_ context.Context, _ pgx.Tx, email string) (auth.User, error) {
	if u, ok := m.byEmail(email); ok {
		return u, nil
	}
	return auth.User{}, auth.ErrUserNotFound
}

func (m *memAccounts) InsertUserTx(_ context.Context, _ pgx.Tx, params auth.CreateUserParams) (auth.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(params.Email)
	if _, ok := m.users[key]; ok {
		return auth.User{}, auth.ErrDuplicateEmail
	}
	m.seq++
	u := auth.User{
		ID:            fmt.Sprintf("user-%d", m.seq),
		Email:         params.Email,
		DisplayName:   params.DisplayName,
		PasswordHash:  params.PasswordHash,
		Role:          params.Role,
		CompanyID:     params.CompanyID,
		EmailVerified: params.EmailVerified,
	}
	m.users[key] = u
	return u, nil
}

func (m *memAccounts) PromoteTx(_ context.Context, _ pgx.Tx, userID, companyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, u := range m.users {
		if u.ID != userID {
			continue
		}
		if u.Role != auth.RoleAdmin {
			u.Role = auth.RoleCompany
		}
		cid := companyID
		u.CompanyID = &cid
		m.users[key] = u
		m.promotions = append(m.promotions, userID)
		return nil
	}
	return auth.ErrUserNotFound
}

func (m *memAccounts) MarkEmailVerifiedTx(_ context.Context, _ pgx.Tx, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := strings.ToLower(email)
	u, ok := m.users[key]
	if !ok {
		return false, nil
	}
	u.EmailVerified = true
	m.users[key] = u
	return true, nil
}

type memCompanies struct {
	mu        sync.Mutex
	companies map[string]company.Company
	claims    int
}

func newMemCompanies(cs ...company.Company) *memCompanies {
	m := &memCompanies{companies: map[string]company.Company{}}
	for _, c := range cs {
		m.companies[c.ID] = c
	}
	return m
}

func (m *memCompanies) get(id string) company.Company {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.companies[id]
}

func (m *memCompanies) claimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.claims
}

func (m *memCompanies) GetByID(_ context.Context, id string) (company.Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok {
		return company.Company{}, company.ErrNotFound
	}
	return c, nil
}

func (m *memCompanies) GetForUpdate(ctx context.Context, _ pgx.Tx, id string) (company.Company, error) {
	return m.GetByID(ctx, id)
}

func (m *memCompanies) MarkClaimed(_ context.Context, _ pgx.Tx, params company.ClaimParams) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[params.CompanyID]
	if !ok || c.Claimed {
		return false, nil
	}
	claimID := params.ClaimID
	email := params.Email
	c.Claimed = true
	c.ClaimedByRequest = &claimID
	c.Email = &email
	if params.Phone != nil {
		c.Phone = params.Phone
	}
	m.companies[c.ID] = c
	m.claims++
	return true, nil
}

// fakeLinks issues the code "code:<email>". Codes are not consumed so tests
// can replay a redemption.
type fakeLinks struct {
	mu      sync.Mutex
	issued  []verification.IssueRequest
	failFor string
}

func codeFor(email string) string { return "code:" + email }

func (f *fakeLinks) Issue(_ context.Context, _ pgx.Tx, req verification.IssueRequest) error {
	if req.Email == f.failFor {
		return eris.Wrap(verification.ErrDispatch, "smtp unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = append(f.issued, req)
	return nil
}

func (f *fakeLinks) Redeem(_ context.Context, _ pgx.Tx, code string) (verification.Redemption, error) {
	email, ok := strings.CutPrefix(code, "code:")
	if !ok || email == "" {
		return verification.Redemption{}, verification.ErrInvalidCode
	}
	return verification.Redemption{Email: email}, nil
}

func (f *fakeLinks) issuedTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.issued))
	for _, ir := range f.issued {
		out = append(out, ir.Email)
	}
	return out
}

type fakeOutbox struct {
	mu       sync.Mutex
	topics   []string
	payloads []map[string]any
}

func (f *fakeOutbox) Enqueue(_ context.Context, _ pgx.Tx, topic string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload)
	return nil
}

// recipients lists the recipient of every decision mail row with status.
func (f *fakeOutbox) recipients(status Status) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for i, t := range f.topics {
		if t == outbox.TopicClaimDecisionMail && f.payloads[i]["status"] == string(status) {
			out = append(out, f.payloads[i]["recipient"].(string))
		}
	}
	return out
}

func (f *fakeOutbox) count(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.topics {
		if t == topic {
			n++
		}
	}
	return n
}

type fakePool struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakePool) last() *fakeTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
}

type fakeTx struct {
	mu        sync.Mutex
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.committed {
		f.rolled = true
	}
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
