// Package session decides who is signed in and which top-level view they get.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/kv"
	"github.com/sqb-ai/istudy/internal/platform/config"
	"github.com/sqb-ai/istudy/internal/roster"
)

var (
	ErrEmptyCredentials = errors.New("email and password are required")
	ErrUserNotFound     = errors.New("no roster entry for email")
	ErrWrongPassword    = errors.New("wrong password")
)

// AdminName is the display name of the administrator session.
const AdminName = "Admin"

var messages = map[error]string{
	ErrEmptyCredentials: "Пожалуйста, заполните все поля",
	ErrUserNotFound:     "Пользователь с таким email не найден. Обратитесь к администратору.",
	ErrWrongPassword:    "Неверный пароль",
}

// Message returns the login-form text for err, or "" if err is not a login
// failure.
func Message(err error) string {
	for target, msg := range messages {
		if errors.Is(err, target) {
			return msg
		}
	}
	return ""
}

// Role is the signed-in role.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// View is the top-level screen for a session state.
type View int

const (
	ViewLogin View = iota
	ViewAdmin
	ViewLearner
)

func (v View) String() string {
	switch v {
	case ViewAdmin:
		return "admin"
	case ViewLearner:
		return "learner"
	default:
		return "login"
	}
}

// Session is the signed-in identity.
type Session struct {
	Role  Role
	Name  string
	Email string
}

// Router holds the current session and persists its flags.
type Router struct {
	store  kv.Store
	roster *roster.Roster
	admin  config.AdminConfig

	mu      sync.RWMutex
	current *Session
}

func New(store kv.Store, rs *roster.Roster, admin config.AdminConfig) *Router {
	return &Router{store: store, roster: rs, admin: admin}
}

// Login checks the credential. The configured admin pair wins over any roster
// entry with the same email.
func (r *Router) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, ErrEmptyCredentials
	}

	var s Session
	if domain.SameEmail(email, r.admin.Email) && password == r.admin.Password {
		s = Session{Role: RoleAdmin, Name: AdminName, Email: r.admin.Email}
	} else {
		u, ok := r.roster.FindByEmail(email)
		if !ok {
			slog.Info("login rejected", "user_email", email, "reason", "unknown")
			return Session{}, fmt.Errorf("login %s: %w", email, ErrUserNotFound)
		}
		if !domain.CheckPassword(u.PasswordHash, password) {
			slog.Info("login rejected", "user_email", email, "reason", "password")
			return Session{}, fmt.Errorf("login %s: %w", email, ErrWrongPassword)
		}
		s = Session{Role: RoleUser, Name: u.DisplayName(), Email: u.Email}
	}

	if err := r.persist(ctx, s); err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	r.current = &s
	r.mu.Unlock()

	slog.Info("logged in", "user_email", s.Email, "role", s.Role)
	return s, nil
}

// Restore rebuilds the session from the stored flags. ok is false when
// nobody is signed in or the flags are incomplete.
func (r *Router) Restore(ctx context.Context) (s Session, ok bool, err error) {
	loggedIn, err := kv.GetBool(ctx, r.store, kv.KeyIsLoggedIn)
	if err != nil || !loggedIn {
		return Session{}, false, err
	}

	var role string
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyRole, &role); err != nil {
		return Session{}, false, err
	}
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyUserName, &s.Name); err != nil {
		return Session{}, false, err
	}
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyUserEmail, &s.Email); err != nil {
		return Session{}, false, err
	}

	s.Role = Role(role)
	if s.Role != RoleAdmin && s.Role != RoleUser {
		slog.Warn("ignoring stored session with unknown role", "role", role)
		return Session{}, false, nil
	}

	r.mu.Lock()
	r.current = &s
	r.mu.Unlock()
	return s, true, nil
}

// Logout clears the session flags. The learner's own keys stay for the next
// login.
func (r *Router) Logout(ctx context.Context) error {
	for _, key := range []string{kv.KeyIsLoggedIn, kv.KeyRole, kv.KeyUserName, kv.KeyUserEmail} {
		if err := r.store.Remove(ctx, key); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}

	r.mu.Lock()
	prev := r.current
	r.current = nil
	r.mu.Unlock()

	if prev != nil {
		slog.Info("logged out", "user_email", prev.Email)
	}
	return nil
}

// Current returns the signed-in session.
func (r *Router) Current() (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Session{}, false
	}
	return *r.current, true
}

// View returns the screen for the current state.
func (r *Router) View() View {
	s, ok := r.Current()
	switch {
	case !ok:
		return ViewLogin
	case s.Role == RoleAdmin:
		return ViewAdmin
	default:
		return ViewLearner
	}
}

func (r *Router) persist(ctx context.Context, s Session) error {
	if err := kv.SetBool(ctx, r.store, kv.KeyIsLoggedIn, true); err != nil {
		return err
	}
	if err := kv.SetJSON(ctx, r.store, kv.KeyRole, string(s.Role)); err != nil {
		return err
	}
	if err := kv.SetJSON(ctx, r.store, kv.KeyUserName, s.Name); err != nil {
		return err
	}
	return kv.SetJSON(ctx, r.store, kv.KeyUserEmail, s.Email)
}
