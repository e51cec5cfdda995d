package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Membership registers users and authenticates them.
type Membership struct {
	store      Store
	bcryptCost int
	log        *slog.Logger
}

func NewMembership(store Store, bcryptCost int, logger *slog.Logger) *Membership {
	return &Membership{store: store, bcryptCost: bcryptCost, log: logger}
}

// Register creates a user. An empty role means RoleUser.
func (m *Membership) Register(ctx context.Context, name, email, password string, role Role) (*User, error) {
	if role == "" {
		role = RoleUser
	}
	if strings.TrimSpace(password) == "" {
		return nil, fmt.Errorf("%w: password cannot be empty", ErrInvalidRecord)
	}

	_, err := m.store.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrDuplicateUser, email)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), m.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	u := &User{
		ID:           newID(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := m.store.InsertUser(ctx, u); err != nil {
		return nil, err
	}
	m.log.DebugContext(ctx, "user registered", "email", email, "role", role)
	return u, nil
}

// Login checks the password and returns the session of the user.
// Unknown email and wrong password fail the same way.
func (m *Membership) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := m.store.FindUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	m.log.DebugContext(ctx, "user logged in", "email", email)
	return newSession(u), nil
}

// AddUser is Register on behalf of an admin.
func (m *Membership) AddUser(ctx context.Context, s *Session, name, email, password string, role Role) (*User, error) {
	if err := authorize(s, OpAddUser); err != nil {
		return nil, err
	}
	return m.Register(ctx, name, email, password, role)
}

// DeleteUser removes every user with the email. A missing email is not an error.
func (m *Membership) DeleteUser(ctx context.Context, s *Session, email string) error {
	if err := authorize(s, OpDeleteUser); err != nil {
		return err
	}
	n, err := m.store.DeleteUsers(ctx, email)
	if err != nil {
		return err
	}
	m.log.DebugContext(ctx, "users deleted", "email", email, "count", n, "by", s.Email)
	return nil
}

func (m *Membership) ListUsers(ctx context.Context, s *Session) ([]*User, error) {
	if err := authorize(s, OpListUsers); err != nil {
		return nil, err
	}
	return m.store.ListUsers(ctx)
}
