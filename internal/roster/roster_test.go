package roster

import (
	"context"
	"errors"
	"testing"

	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/kv"
)

// flakyStore fails writes to adminUsers while fail is set.
type flakyStore struct {
	*kv.MemoryStore
	fail bool
}

func (s *flakyStore) Set(ctx context.Context, key, value string) error {
	if s.fail && key == kv.KeyUsers {
		return errors.New("disk full")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func newUser(id int64, name, email, dept string) domain.User {
	return domain.User{
		ID:          id,
		Name:        name,
		Email:       email,
		Department:  dept,
		Progress:    map[int64]domain.ModuleProgress{1: {Total: 6}},
		TestResults: []domain.TestResult{},
	}
}

func newRoster(t *testing.T, users ...domain.User) (*Roster, *flakyStore) {
	t.Helper()
	store := &flakyStore{MemoryStore: kv.NewMemoryStore()}
	if len(users) > 0 {
		if err := kv.SetJSON(t.Context(), store, kv.KeyUsers, users); err != nil {
			t.Fatal(err)
		}
	}
	r, err := New(t.Context(), store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r, store
}

func storedUsers(t *testing.T, s kv.Store) []domain.User {
	t.Helper()
	var users []domain.User
	if _, err := kv.GetJSON(t.Context(), s, kv.KeyUsers, &users); err != nil {
		t.Fatal(err)
	}
	return users
}

func TestNew_Empty(t *testing.T) {
	r, _ := newRoster(t)
	if r.Len() != 0 || len(r.List()) != 0 {
		t.Errorf("expected empty roster, got %d", r.Len())
	}
}

func TestNew_CorruptStore(t *testing.T) {
	store := kv.NewMemoryStore()
	_ = store.Set(t.Context(), kv.KeyUsers, "{")
	if _, err := New(t.Context(), store); err == nil {
		t.Fatal("New() should fail on corrupt roster")
	}
}

func TestAdd(t *testing.T) {
	r, store := newRoster(t, newUser(1, "Алия", "aliya@sqb.uz", "Финансы"))

	var changes []Change
	cancel := r.Subscribe(func(c Change) { changes = append(changes, c) })
	defer cancel()

	if err := r.Add(t.Context(), newUser(2, "Bob", "bob@sqb.uz", "IT")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := storedUsers(t, store); len(got) != 2 || got[1].Email != "bob@sqb.uz" {
		t.Errorf("stored = %+v", got)
	}
	if len(changes) != 1 || changes[0] != (Change{Kind: ChangeAdded, UserID: 2, Email: "bob@sqb.uz"}) {
		t.Errorf("changes = %+v", changes)
	}

	err := r.Add(t.Context(), newUser(3, "Bob2", " BOB@sqb.UZ ", "IT"))
	ve, ok := domain.AsValidation(err)
	if !ok || ve.Field("email") != domain.MsgDuplicateEmail {
		t.Fatalf("duplicate Add() error = %v", err)
	}
	if r.Len() != 2 || len(changes) != 1 {
		t.Error("rejected Add() changed state or notified")
	}
}

func TestFindAndSearch(t *testing.T) {
	r, _ := newRoster(t,
		newUser(1, "Алия Каримова", "aliya@sqb.uz", "Финансы"),
		newUser(2, "Bob Stone", "bob@sqb.uz", "IT"),
		newUser(3, "Carol", "carol@sqb.uz", "Финансовый контроль"),
	)

	if u, ok := r.FindByEmail("ALIYA@sqb.uz"); !ok || u.ID != 1 {
		t.Errorf("FindByEmail() = %+v, %v", u, ok)
	}
	if _, ok := r.FindByEmail("nobody@sqb.uz"); ok {
		t.Error("FindByEmail() found a missing user")
	}
	if u, ok := r.FindByID(2); !ok || u.Name != "Bob Stone" {
		t.Errorf("FindByID() = %+v, %v", u, ok)
	}

	tests := []struct {
		q    string
		want int
	}{
		{"", 3},
		{"финанс", 2},
		{"STONE", 1},
		{"@sqb.uz", 3},
		{"zzz", 0},
	}
	for _, tt := range tests {
		if got := r.Search(tt.q); len(got) != tt.want {
			t.Errorf("Search(%q) = %d users, want %d", tt.q, len(got), tt.want)
		}
	}
}

func TestList_ReturnsCopies(t *testing.T) {
	r, _ := newRoster(t, newUser(1, "A", "a@sqb.uz", "IT"))
	list := r.List()
	list[0].Progress[1] = domain.ModuleProgress{Completed: 6, Total: 6}

	u, _ := r.FindByID(1)
	if u.Progress[1].Completed != 0 {
		t.Error("List() exposed internal state")
	}
}

func TestUpdate(t *testing.T) {
	r, store := newRoster(t, newUser(1, "A", "a@sqb.uz", "IT"))

	got, err := r.Update(t.Context(), "A@SQB.UZ", func(u domain.User) (domain.User, error) {
		u.TimeSpent += 30
		return u, nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.TimeSpent != 30 || storedUsers(t, store)[0].TimeSpent != 30 {
		t.Errorf("update not applied: %+v", got)
	}

	_, err = r.Update(t.Context(), "x@sqb.uz", func(u domain.User) (domain.User, error) { return u, nil })
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Update() missing error = %v", err)
	}

	boom := errors.New("boom")
	_, err = r.Update(t.Context(), "a@sqb.uz", func(u domain.User) (domain.User, error) {
		u.TimeSpent = 999
		return u, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Update() error = %v, want boom", err)
	}
	if u, _ := r.FindByID(1); u.TimeSpent != 30 {
		t.Error("failed Update() changed state")
	}
}

func TestReconcile(t *testing.T) {
	r, _ := newRoster(t, newUser(1, "A", "a@sqb.uz", "IT"))

	var kinds []ChangeKind
	r.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })

	replaced := newUser(1, "A", "A@sqb.uz", "IT")
	replaced.TimeSpent = 12
	if err := r.Reconcile(t.Context(), replaced); err != nil {
		t.Fatal(err)
	}
	if err := r.Reconcile(t.Context(), newUser(5, "E", "e@sqb.uz", "HR")); err != nil {
		t.Fatal(err)
	}

	list := r.List()
	if len(list) != 2 || list[0].TimeSpent != 12 || list[1].ID != 5 {
		t.Errorf("roster = %+v", list)
	}
	if len(kinds) != 2 || kinds[0] != ChangeUpdated || kinds[1] != ChangeAdded {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestEditProfile(t *testing.T) {
	r, _ := newRoster(t,
		newUser(1, "A", "a@sqb.uz", "IT"),
		newUser(2, "B", "b@sqb.uz", "IT"),
	)

	got, err := r.EditProfile(t.Context(), 1, domain.ProfileEdit{Name: "Anna", Email: "anna@sqb.uz", Department: "HR"})
	if err != nil {
		t.Fatalf("EditProfile() error = %v", err)
	}
	if got.Name != "Anna" || got.Department != "HR" {
		t.Errorf("got %+v", got)
	}

	// keeping one's own email is fine
	if _, err := r.EditProfile(t.Context(), 1, domain.ProfileEdit{Name: "Anna", Email: "ANNA@sqb.uz", Department: "HR"}); err != nil {
		t.Errorf("EditProfile() own email error = %v", err)
	}

	_, err = r.EditProfile(t.Context(), 1, domain.ProfileEdit{Name: "Anna", Email: "b@sqb.uz", Department: "HR"})
	if ve, ok := domain.AsValidation(err); !ok || ve.Field("email") != domain.MsgDuplicateEmail {
		t.Errorf("EditProfile() duplicate error = %v", err)
	}

	if _, err := r.EditProfile(t.Context(), 9, domain.ProfileEdit{Name: "x", Email: "x@sqb.uz", Department: "x"}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("EditProfile() missing error = %v", err)
	}
}

func TestRemove_CascadesLearnerKeys(t *testing.T) {
	r, store := newRoster(t,
		newUser(1, "Алия", "aliya@sqb.uz", "IT"),
		newUser(2, "Bob", "bob@sqb.uz", "IT"),
	)
	ctx := t.Context()
	for _, key := range append(kv.PerUserKeys("Алия"), kv.PerUserKeys("Bob")...) {
		_ = store.Set(ctx, key, "x")
	}

	removed, err := r.Remove(ctx, 1)
	if err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if removed.Email != "aliya@sqb.uz" {
		t.Errorf("removed = %+v", removed)
	}
	for _, key := range kv.PerUserKeys("Алия") {
		if _, ok, _ := store.Get(ctx, key); ok {
			t.Errorf("key %s survived removal", key)
		}
	}
	for _, key := range kv.PerUserKeys("Bob") {
		if _, ok, _ := store.Get(ctx, key); !ok {
			t.Errorf("key %s of another user removed", key)
		}
	}
	if got := storedUsers(t, store); len(got) != 1 || got[0].ID != 2 {
		t.Errorf("stored = %+v", got)
	}

	if _, err := r.Remove(ctx, 1); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("second Remove() error = %v", err)
	}
}

func TestApplyAll(t *testing.T) {
	r, store := newRoster(t,
		newUser(1, "A", "a@sqb.uz", "IT"),
		newUser(2, "B", "b@sqb.uz", "IT"),
	)

	var changes []Change
	r.Subscribe(func(c Change) { changes = append(changes, c) })

	err := r.ApplyAll(t.Context(), func(u domain.User) domain.User {
		u.Progress[2] = domain.ModuleProgress{Total: 4}
		return u
	})
	if err != nil {
		t.Fatalf("ApplyAll() error = %v", err)
	}
	for _, u := range storedUsers(t, store) {
		if u.Progress[2].Total != 4 {
			t.Errorf("user %d not updated", u.ID)
		}
	}
	if len(changes) != 1 || changes[0].Kind != ChangeBulk {
		t.Errorf("changes = %+v", changes)
	}
}

func TestActions_AreAtomicOnPersistFailure(t *testing.T) {
	r, store := newRoster(t, newUser(1, "A", "a@sqb.uz", "IT"))
	store.fail = true

	notified := false
	r.Subscribe(func(Change) { notified = true })

	if err := r.Add(t.Context(), newUser(2, "B", "b@sqb.uz", "IT")); err == nil {
		t.Error("Add() should fail")
	}
	if err := r.ApplyAll(t.Context(), func(u domain.User) domain.User {
		u.TimeSpent = 100
		return u
	}); err == nil {
		t.Error("ApplyAll() should fail")
	}
	if _, err := r.Remove(t.Context(), 1); err == nil {
		t.Error("Remove() should fail")
	}

	list := r.List()
	if len(list) != 1 || list[0].TimeSpent != 0 {
		t.Errorf("in-memory roster changed after failed writes: %+v", list)
	}
	if notified {
		t.Error("subscribers notified of a failed action")
	}
}

func TestSubscribe_Cancel(t *testing.T) {
	r, _ := newRoster(t)
	calls := 0
	cancel := r.Subscribe(func(Change) { calls++ })

	_ = r.Add(t.Context(), newUser(1, "A", "a@sqb.uz", "IT"))
	cancel()
	_ = r.Add(t.Context(), newUser(2, "B", "b@sqb.uz", "IT"))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestReload(t *testing.T) {
	r, store := newRoster(t, newUser(1, "A", "a@sqb.uz", "IT"))
	external := []domain.User{newUser(1, "A", "a@sqb.uz", "IT"), newUser(2, "B", "b@sqb.uz", "HR")}
	if err := kv.SetJSON(t.Context(), store, kv.KeyUsers, external); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(t.Context()); err != nil {
		t.Fatal(err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d after reload, want 2", r.Len())
	}
}
