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
		Email:    "alice@example.com",
		Password: "supersafe",
		FullName: "Alice Analyst",
	}

	ctx := context.Background()
	user, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}
	if user.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, user.Email)
	}
	if user.Role != RoleAnalyst {
		t.Fatalf("register: expected default role %s got %s", RoleAnalyst, user.Role)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}

	actor, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if actor.ID != user.ID {
		t.Fatalf("verify token: expected %q got %q", user.ID, actor.ID)
	}
	if actor.Role != RoleAnalyst {
		t.Fatalf("verify token: expected role %s got %s", RoleAnalyst, actor.Role)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "short",
		FullName: "Alice Analyst",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword got %v", err)
	}

	_, err = svc.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		Password: "supersafe",
		FullName: "Bob",
		Role:     Role("superuser"),
	})
	if err == nil || !strings.Contains(err.Error(), "invalid role") {
		t.Fatalf("expected invalid role error got %v", err)
	}
}

func TestService_LoginWrongPassword(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "supersafe",
		FullName: "Alice Analyst",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := svc.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "wrongpass"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials got %v", err)
	}
	_, err = svc.Login(context.Background(), LoginRequest{Email: "missing@example.com", Password: "supersafe"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email got %v", err)
	}
}

func TestService_GetUserByID(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	registered, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: "supersafe",
		FullName: "Alice Analyst",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	user, err := svc.GetUserByID(context.Background(), registered.ID)
	if err != nil {
		t.Fatalf("get user by id: %v", err)
	}
	if user.Email != registered.Email {
		t.Fatalf("expected email %q got %q", registered.Email, user.Email)
	}

	if _, err := svc.GetUserByID(context.Background(), "missing"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound got %v", err)
	}
}

func TestService_VerifyTokenRejectsGarbage(t *testing.T) {
	svc := NewService(newFakeRepository(), "test-secret")
	if _, err := svc.VerifyToken("not-a-token"); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestRoleAuthorizer_Permissions(t *testing.T) {
	authz := NewRoleAuthorizer()
	ctx := context.Background()

	cases := []struct {
		role     Role
		resource string
		action   string
		want     bool
	}{
		{RoleAnalyst, ResourceScenarios, ActionCreate, true},
		{RoleAnalyst, ResourceScenarios, ActionTransition, true},
		{RoleAnalyst, ResourceScenarios, ActionDelete, false},
		{RoleAnalyst, ResourceOutbox, ActionOperate, false},
		{RoleService, ResourceScenarios, ActionTransition, true},
		{RoleService, ResourceScenarios, ActionCreate, false},
		{RoleAdmin, ResourceScenarios, ActionDelete, true},
		{RoleAdmin, ResourceOutbox, ActionOperate, true},
		{Role("bogus"), ResourceScenarios, ActionRead, false},
	}
	for _, tc := range cases {
		name := fmt.Sprintf("%s_%s_%s", tc.role, tc.resource, tc.action)
		t.Run(name, func(t *testing.T) {
			got := authz.Authorize(ctx, Actor{ID: "u1", Role: tc.role}, tc.resource, tc.action)
			if got != tc.want {
				t.Fatalf("Authorize(%s, %s, %s) = %v, want %v", tc.role, tc.resource, tc.action, got, tc.want)
			}
		})
	}
}

// --- fakes ---

type fakeRepository struct {
	byEmail map[string]User
	byID    map[string]User
	nextID  int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		byEmail: map[string]User{},
		byID:    map[string]User{},
	}
}

func (f *fakeRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	if _, exists := f.byEmail[params.Email]; exists {
		return User{}, ErrDuplicateEmail
	}
	f.nextID++
	user := User{
		ID:           fmt.Sprintf("user-%d", f.nextID),
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		Role:         params.Role,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	f.byEmail[user.Email] = user
	f.byID[user.ID] = user
	return user, nil
}

func (f *fakeRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, ok := f.byEmail[email]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (f *fakeRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, ok := f.byID[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}
