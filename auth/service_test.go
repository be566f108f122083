package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:       "alice@example.com",
		Password:    "supersafe",
		DisplayName: "Alice Owner",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleUser {
		t.Fatalf("register: expected role %s got %s", RoleUser, user.Role)
	}
	if user.PasswordHash == req.Password {
		t.Fatal("register: password stored in plaintext")
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.User.ID != user.ID {
		t.Fatalf("login: expected user id %q got %q", user.ID, resp.User.ID)
	}

	claims, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.UserID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, claims.UserID)
	}
	if claims.Role != RoleUser {
		t.Fatalf("verify token: expected role %s got %s", RoleUser, claims.Role)
	}
}

func TestService_TokenCarriesCompany(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	companyID := "company-1"

	hash, err := HashPassword("supersafe")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := repo.CreateUser(context.Background(), CreateUserParams{
		Email: "owner@acme.test", PasswordHash: hash, Role: RoleCompany, CompanyID: &companyID,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	resp, err := svc.Login(context.Background(), LoginRequest{Email: "owner@acme.test", Password: "supersafe"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != RoleCompany || claims.CompanyID != companyID {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestService_VerifyTokenRejectsExpiredAndForeign(t *testing.T) {
	repo := newFakeRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService(repo, "test-secret").WithTokenTTL(time.Hour).WithClock(func() time.Time { return now })

	if _, err := svc.Register(context.Background(), RegisterRequest{Email: "a@b.test", Password: "supersafe", DisplayName: "A"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resp, err := svc.Login(context.Background(), LoginRequest{Email: "a@b.test", Password: "supersafe"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	other := NewService(repo, "other-secret").WithClock(func() time.Time { return now })
	if _, err := other.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign secret, got %v", err)
	}

	now = now.Add(2 * time.Hour)
	if _, err := svc.VerifyToken(resp.Token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "alice@example.com",
		Password:    "short",
		DisplayName: "Alice Owner",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:       "Alice <alice@example.com>",
		Password:    "strongpassword",
		DisplayName: "Alice",
	}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "strongpassword",
	}); err == nil {
		t.Fatal("expected validation error for missing display name")
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:       "alice@example.com",
		Password:    "strongpassword",
		DisplayName: "Alice Owner",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	req.Email = "ALICE@example.com"
	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestService_Representatives(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")
	companyID := "company-9"

	for i, role := range []Role{RoleCompany, RoleCompany, RoleUser} {
		params := CreateUserParams{Email: fmt.Sprintf("rep%d@acme.test", i), Role: role}
		if role == RoleCompany {
			params.CompanyID = &companyID
		}
		if _, err := repo.CreateUser(context.Background(), params); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	reps, err := svc.Representatives(context.Background(), companyID)
	if err != nil {
		t.Fatalf("representatives: %v", err)
	}
	if len(reps) != 2 {
		t.Fatalf("expected 2 representatives, got %d", len(reps))
	}
}

type fakeRepository struct {
	usersByEmail map[string]User
	usersByID    map[string]User
	order        []string
	nextID       int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		usersByEmail: make(map[string]User),
		usersByID:    make(map[string]User),
		nextID:       1,
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.usersByEmail[strings.ToLower(params.Email)]; exists {
		return User{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("user-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = RoleUser
	}

	user := User{
		ID:           id,
		Email:        params.Email,
		DisplayName:  params.DisplayName,
		PasswordHash: params.PasswordHash,
		Role:         role,
		CompanyID:    params.CompanyID,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.usersByEmail[strings.ToLower(user.Email)] = user
	f.usersByID[user.ID] = user
	f.order = append(f.order, user.ID)

	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.usersByEmail[strings.ToLower(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.usersByID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) ListByCompanyRole(ctx context.Context, companyID string, role Role) ([]User, error) {
	var out []User
	for _, id := range f.order {
		u := f.usersByID[id]
		if u.Role == role && u.CompanyID != nil && *u.CompanyID == companyID {
			out = append(out, u)
		}
	}
	return out, nil
}
