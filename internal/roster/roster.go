// Package roster owns the shared list of learner records. Admin and learner
// flows mutate it only through its actions; each action persists the whole
// list and then notifies subscribers.
package roster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/kv"
)

// ErrUserNotFound is returned when no roster entry matches.
var ErrUserNotFound = errors.New("user not found")

// ChangeKind tells subscribers what happened.
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
	ChangeBulk    ChangeKind = "bulk"
)

// Change describes one committed action. UserID and Email are zero for bulk
// changes.
type Change struct {
	Kind   ChangeKind
	UserID int64
	Email  string
}

// Roster is the in-memory copy of adminUsers plus its persistence.
type Roster struct {
	store kv.Store

	mu    sync.RWMutex
	users []domain.User

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New loads the roster from store. A missing key yields an empty roster.
func New(ctx context.Context, store kv.Store) (*Roster, error) {
	r := &Roster{store: store, subs: map[int]func(Change){}}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload replaces the in-memory list with what is stored.
func (r *Roster) Reload(ctx context.Context) error {
	var users []domain.User
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyUsers, &users); err != nil {
		return fmt.Errorf("load roster: %w", err)
	}
	for i := range users {
		users[i] = users[i].Clone()
	}

	r.mu.Lock()
	r.users = users
	r.mu.Unlock()
	return nil
}

// List returns a copy of every user in roster order.
func (r *Roster) List() []domain.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneAll(r.users)
}

// Len returns the number of users.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// FindByEmail looks a user up by normalized email.
func (r *Roster) FindByEmail(email string) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := indexByEmail(r.users, email); i >= 0 {
		return r.users[i].Clone(), true
	}
	return domain.User{}, false
}

// FindByID looks a user up by id.
func (r *Roster) FindByID(id int64) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i := indexByID(r.users, id); i >= 0 {
		return r.users[i].Clone(), true
	}
	return domain.User{}, false
}

// Search returns users whose name, email or department contains q, ignoring
// case. An empty query matches everyone.
func (r *Roster) Search(q string) []domain.User {
	q = strings.ToLower(strings.TrimSpace(q))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.User
	for _, u := range r.users {
		if q == "" ||
			strings.Contains(strings.ToLower(u.Name), q) ||
			strings.Contains(strings.ToLower(u.Email), q) ||
			strings.Contains(strings.ToLower(u.Department), q) {
			out = append(out, u.Clone())
		}
	}
	return out
}

// Add appends a new user. An email already in the roster is rejected with a
// validation error on the email field.
func (r *Roster) Add(ctx context.Context, u domain.User) error {
	r.mu.Lock()
	if indexByEmail(r.users, u.Email) >= 0 {
		r.mu.Unlock()
		return duplicateEmail()
	}
	next := append(cloneAll(r.users), u.Clone())
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	slog.Info("user added", "user_id", u.ID, "user_email", u.Email)
	r.notify(Change{Kind: ChangeAdded, UserID: u.ID, Email: u.Email})
	return nil
}

// Update applies fn to the user with email and stores the result. If fn
// returns an error nothing changes.
func (r *Roster) Update(ctx context.Context, email string, fn func(domain.User) (domain.User, error)) (domain.User, error) {
	r.mu.Lock()
	i := indexByEmail(r.users, email)
	if i < 0 {
		r.mu.Unlock()
		return domain.User{}, fmt.Errorf("update %s: %w", email, ErrUserNotFound)
	}

	updated, err := fn(r.users[i].Clone())
	if err != nil {
		r.mu.Unlock()
		return domain.User{}, err
	}
	next := cloneAll(r.users)
	next[i] = updated.Clone()
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return domain.User{}, err
	}
	r.mu.Unlock()

	r.notify(Change{Kind: ChangeUpdated, UserID: updated.ID, Email: updated.Email})
	return updated, nil
}

// Reconcile replaces the entry with u's email, or appends u if there is none.
func (r *Roster) Reconcile(ctx context.Context, u domain.User) error {
	r.mu.Lock()
	next := cloneAll(r.users)
	kind := ChangeUpdated
	if i := indexByEmail(next, u.Email); i >= 0 {
		next[i] = u.Clone()
	} else {
		next = append(next, u.Clone())
		kind = ChangeAdded
	}
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	r.notify(Change{Kind: kind, UserID: u.ID, Email: u.Email})
	return nil
}

// EditProfile applies an admin profile edit to the user with id.
func (r *Roster) EditProfile(ctx context.Context, id int64, edit domain.ProfileEdit) (domain.User, error) {
	r.mu.Lock()
	i := indexByID(r.users, id)
	if i < 0 {
		r.mu.Unlock()
		return domain.User{}, fmt.Errorf("edit user %d: %w", id, ErrUserNotFound)
	}
	if j := indexByEmail(r.users, edit.Email); j >= 0 && j != i {
		r.mu.Unlock()
		return domain.User{}, duplicateEmail()
	}

	updated, err := domain.ApplyProfileEdit(r.users[i], edit)
	if err != nil {
		r.mu.Unlock()
		return domain.User{}, err
	}
	next := cloneAll(r.users)
	next[i] = updated
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return domain.User{}, err
	}
	r.mu.Unlock()

	slog.Info("user profile edited", "user_id", id, "user_email", updated.Email)
	r.notify(Change{Kind: ChangeUpdated, UserID: id, Email: updated.Email})
	return updated, nil
}

// Remove deletes the user with id together with the learner's own keys.
func (r *Roster) Remove(ctx context.Context, id int64) (domain.User, error) {
	r.mu.Lock()
	i := indexByID(r.users, id)
	if i < 0 {
		r.mu.Unlock()
		return domain.User{}, fmt.Errorf("remove user %d: %w", id, ErrUserNotFound)
	}
	removed := r.users[i].Clone()
	next := append(cloneAll(r.users[:i]), cloneAll(r.users[i+1:])...)
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return domain.User{}, err
	}
	r.mu.Unlock()

	for _, key := range kv.PerUserKeys(removed.DisplayName()) {
		if err := r.store.Remove(ctx, key); err != nil {
			slog.Warn("failed to remove learner key", "key", key, "error", err)
		}
	}

	slog.Info("user removed", "user_id", id, "user_email", removed.Email)
	r.notify(Change{Kind: ChangeRemoved, UserID: id, Email: removed.Email})
	return removed, nil
}

// ApplyAll rewrites every user with fn in one pass and one write. Either every
// user is updated or none is.
func (r *Roster) ApplyAll(ctx context.Context, fn func(domain.User) domain.User) error {
	r.mu.Lock()
	next := make([]domain.User, len(r.users))
	for i, u := range r.users {
		next[i] = fn(u.Clone()).Clone()
	}
	if err := r.commitLocked(ctx, next); err != nil {
		r.mu.Unlock()
		return err
	}
	n := len(next)
	r.mu.Unlock()

	slog.Debug("roster rewritten", "users", n)
	r.notify(Change{Kind: ChangeBulk})
	return nil
}

// Subscribe registers fn for every committed change. fn runs synchronously on
// the caller's goroutine after the write, outside the roster lock. Call the
// returned function to unsubscribe.
func (r *Roster) Subscribe(fn func(Change)) (cancel func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	return func() {
		r.subMu.Lock()
		delete(r.subs, id)
		r.subMu.Unlock()
	}
}

func (r *Roster) notify(c Change) {
	r.subMu.Lock()
	fns := make([]func(Change), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// commitLocked persists next and swaps it in. r.mu must be held.
func (r *Roster) commitLocked(ctx context.Context, next []domain.User) error {
	if next == nil {
		next = []domain.User{}
	}
	if err := kv.SetJSON(ctx, r.store, kv.KeyUsers, next); err != nil {
		slog.Warn("failed to persist roster", "error", err)
		return fmt.Errorf("save roster: %w", err)
	}
	r.users = next
	return nil
}

func duplicateEmail() error {
	return &domain.ValidationError{Fields: map[string]string{"email": domain.MsgDuplicateEmail}}
}

func indexByEmail(users []domain.User, email string) int {
	norm := domain.NormalizeEmail(email)
	for i, u := range users {
		if domain.NormalizeEmail(u.Email) == norm {
			return i
		}
	}
	return -1
}

func indexByID(users []domain.User, id int64) int {
	for i, u := range users {
		if u.ID == id {
			return i
		}
	}
	return -1
}

func cloneAll(users []domain.User) []domain.User {
	out := make([]domain.User, len(users))
	for i, u := range users {
		out[i] = u.Clone()
	}
	return out
}
