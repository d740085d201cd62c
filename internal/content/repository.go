// Package content owns the module catalog, lesson bodies, module tests and the
// assistant questionnaire. Catalog changes that affect learner progress are
// pushed into the roster in one atomic pass.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/kv"
	"github.com/sqb-ai/istudy/internal/progress"
	"github.com/sqb-ai/istudy/internal/roster"
)

var (
	ErrModuleNotFound   = errors.New("module not found")
	ErrLessonNotFound   = errors.New("lesson not found")
	ErrQuestionNotFound = errors.New("agent question not found")
)

// Repository reads and writes catalog keys. The store is the source of truth;
// every call reads it afresh so writes from other sessions are picked up.
type Repository struct {
	store  kv.Store
	roster *roster.Roster
	now    func() time.Time

	mu sync.Mutex // serializes read-modify-write cycles
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// Open returns a repository over store. Catalog keys that are missing are
// filled from seed; a nil seed leaves them empty.
func Open(ctx context.Context, store kv.Store, rs *roster.Roster, seed *Seed, opts ...Option) (*Repository, error) {
	r := &Repository{store: store, roster: rs, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if seed != nil {
		if err := r.seed(ctx, seed); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Repository) seed(ctx context.Context, s *Seed) error {
	_, hasModules, err := r.store.Get(ctx, kv.KeyModules)
	if err != nil {
		return fmt.Errorf("check catalog: %w", err)
	}
	_, hasQuestions, err := r.store.Get(ctx, kv.KeyAgentQuestions)
	if err != nil {
		return fmt.Errorf("check questionnaire: %w", err)
	}
	if hasModules && hasQuestions {
		return nil
	}

	c, err := s.build()
	if err != nil {
		return err
	}

	if !hasModules {
		if err := kv.SetJSON(ctx, r.store, kv.KeyModules, c.modules); err != nil {
			return err
		}
		if err := kv.SetJSON(ctx, r.store, kv.KeyLessonContent, c.content); err != nil {
			return err
		}
		if err := kv.SetJSON(ctx, r.store, kv.KeyModuleTests, c.tests); err != nil {
			return err
		}
		slog.Info("catalog seeded", "modules", len(c.modules), "lessons", len(c.content))
	}
	if !hasQuestions {
		if err := kv.SetJSON(ctx, r.store, kv.KeyAgentQuestions, c.agentQuestions); err != nil {
			return err
		}
		slog.Info("questionnaire seeded", "questions", len(c.agentQuestions))
	}
	return nil
}

// Modules returns the live module list in display order.
func (r *Repository) Modules(ctx context.Context) ([]domain.Module, error) {
	var modules []domain.Module
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyModules, &modules); err != nil {
		return nil, err
	}
	return modules, nil
}

// Module returns one module.
func (r *Repository) Module(ctx context.Context, id int64) (domain.Module, error) {
	modules, err := r.Modules(ctx)
	if err != nil {
		return domain.Module{}, err
	}
	i := moduleIndex(modules, id)
	if i < 0 {
		return domain.Module{}, fmt.Errorf("module %d: %w", id, ErrModuleNotFound)
	}
	return modules[i], nil
}

// AddModule validates the form, appends the module and gives every user a
// fresh progress entry for it.
func (r *Repository) AddModule(ctx context.Context, in domain.NewModuleInput) (domain.Module, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	modules, err := r.Modules(ctx)
	if err != nil {
		return domain.Module{}, err
	}

	m, err := domain.NewModule(in, r.now())
	if err != nil {
		return domain.Module{}, err
	}
	for moduleIndex(modules, m.ID) >= 0 {
		m.ID++
	}

	next := append(slices.Clone(modules), m)
	if err := r.saveModules(ctx, next); err != nil {
		return domain.Module{}, err
	}

	entry := domain.NewModuleProgress(m)
	err = r.roster.ApplyAll(ctx, func(u domain.User) domain.User {
		u.Progress[m.ID] = entry
		return u
	})
	if err != nil {
		r.rollbackModules(ctx, modules)
		return domain.Module{}, fmt.Errorf("add module progress: %w", err)
	}

	if err := r.updateContent(ctx, func(c map[string]domain.ContentRecord) {
		for _, l := range m.Lessons {
			c[l.ID] = domain.ContentRecord{Title: l.Name, Content: domain.DefaultLessonContent}
		}
	}); err != nil {
		return domain.Module{}, err
	}

	slog.Info("module added", "module_id", m.ID, "lessons", len(m.Lessons))
	return m, nil
}

// DeleteModule removes the module, its test and lesson bodies, every user's
// progress entry for it and every test result that references it.
func (r *Repository) DeleteModule(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	modules, err := r.Modules(ctx)
	if err != nil {
		return err
	}
	i := moduleIndex(modules, id)
	if i < 0 {
		return fmt.Errorf("delete module %d: %w", id, ErrModuleNotFound)
	}
	removed := modules[i]

	next := slices.Delete(slices.Clone(modules), i, i+1)
	if err := r.saveModules(ctx, next); err != nil {
		return err
	}

	err = r.roster.ApplyAll(ctx, func(u domain.User) domain.User {
		delete(u.Progress, id)
		u.TestResults = slices.DeleteFunc(u.TestResults, func(t domain.TestResult) bool {
			return t.ModuleID == id
		})
		return u
	})
	if err != nil {
		r.rollbackModules(ctx, modules)
		return fmt.Errorf("remove module progress: %w", err)
	}

	if err := r.updateTests(ctx, func(t map[int64][]domain.TestQuestion) { delete(t, id) }); err != nil {
		return err
	}
	if err := r.updateContent(ctx, func(c map[string]domain.ContentRecord) {
		for _, l := range removed.Lessons {
			delete(c, l.ID)
		}
	}); err != nil {
		return err
	}

	slog.Info("module deleted", "module_id", id)
	return nil
}

// AddLesson appends a lesson with default content. Title defaults to name.
// Every user's total for the module grows by one.
func (r *Repository) AddLesson(ctx context.Context, moduleID int64, name, title string) (domain.Lesson, error) {
	if err := domain.ValidateLessonName(name); err != nil {
		return domain.Lesson{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	modules, err := r.Modules(ctx)
	if err != nil {
		return domain.Lesson{}, err
	}
	i := moduleIndex(modules, moduleID)
	if i < 0 {
		return domain.Lesson{}, fmt.Errorf("add lesson to %d: %w", moduleID, ErrModuleNotFound)
	}

	lesson := domain.NewLesson(name)
	next := cloneModules(modules)
	next[i].Lessons = append(next[i].Lessons, lesson)
	next[i].Duration = len(next[i].Lessons) * domain.MinutesPerLesson

	if err := r.resize(ctx, modules, next, next[i]); err != nil {
		return domain.Lesson{}, err
	}

	if title == "" {
		title = lesson.Name
	}
	if err := r.updateContent(ctx, func(c map[string]domain.ContentRecord) {
		c[lesson.ID] = domain.ContentRecord{Title: title, Content: domain.DefaultLessonContent}
	}); err != nil {
		return domain.Lesson{}, err
	}

	slog.Info("lesson added", "module_id", moduleID, "lesson_id", lesson.ID)
	return lesson, nil
}

// DeleteLesson removes a lesson and its body. Every user's counters for the
// module are clamped to the new total.
func (r *Repository) DeleteLesson(ctx context.Context, moduleID int64, lessonID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	modules, err := r.Modules(ctx)
	if err != nil {
		return err
	}
	i := moduleIndex(modules, moduleID)
	if i < 0 {
		return fmt.Errorf("delete lesson from %d: %w", moduleID, ErrModuleNotFound)
	}
	j := modules[i].LessonIndex(lessonID)
	if j < 0 {
		return fmt.Errorf("delete lesson %s: %w", lessonID, ErrLessonNotFound)
	}

	next := cloneModules(modules)
	next[i].Lessons = slices.Delete(next[i].Lessons, j, j+1)
	next[i].Duration = len(next[i].Lessons) * domain.MinutesPerLesson

	if err := r.resize(ctx, modules, next, next[i]); err != nil {
		return err
	}

	if err := r.updateContent(ctx, func(c map[string]domain.ContentRecord) { delete(c, lessonID) }); err != nil {
		return err
	}

	slog.Info("lesson deleted", "module_id", moduleID, "lesson_id", lessonID)
	return nil
}

// RenameLesson changes a lesson's display name. Its content stays attached.
func (r *Repository) RenameLesson(ctx context.Context, moduleID int64, lessonID, name string) error {
	if err := domain.ValidateLessonName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	modules, err := r.Modules(ctx)
	if err != nil {
		return err
	}
	i := moduleIndex(modules, moduleID)
	if i < 0 {
		return fmt.Errorf("rename lesson in %d: %w", moduleID, ErrModuleNotFound)
	}
	j := modules[i].LessonIndex(lessonID)
	if j < 0 {
		return fmt.Errorf("rename lesson %s: %w", lessonID, ErrLessonNotFound)
	}

	next := cloneModules(modules)
	next[i].Lessons[j].Name = domain.NewLesson(name).Name
	return r.saveModules(ctx, next)
}

// LessonContent returns the body of a lesson. ok is false when none is stored.
func (r *Repository) LessonContent(ctx context.Context, lessonID string) (rec domain.ContentRecord, ok bool, err error) {
	all, err := r.allContent(ctx)
	if err != nil {
		return domain.ContentRecord{}, false, err
	}
	rec, ok = all[lessonID]
	return rec, ok, nil
}

// SetLessonContent replaces the body of an existing lesson.
func (r *Repository) SetLessonContent(ctx context.Context, lessonID string, rec domain.ContentRecord) error {
	if err := domain.ValidateTest(rec.Test); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	modules, err := r.Modules(ctx)
	if err != nil {
		return err
	}
	if _, _, ok := findLesson(modules, lessonID); !ok {
		return fmt.Errorf("set content %s: %w", lessonID, ErrLessonNotFound)
	}

	return r.updateContent(ctx, func(c map[string]domain.ContentRecord) { c[lessonID] = rec })
}

// ModuleTest returns the module's final test, empty if none is set.
func (r *Repository) ModuleTest(ctx context.Context, moduleID int64) ([]domain.TestQuestion, error) {
	tests, err := r.allTests(ctx)
	if err != nil {
		return nil, err
	}
	return tests[moduleID], nil
}

// SetModuleTest replaces the module's final test. An empty list clears it.
func (r *Repository) SetModuleTest(ctx context.Context, moduleID int64, questions []domain.TestQuestion) error {
	if err := domain.ValidateTest(questions); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.Module(ctx, moduleID); err != nil {
		return err
	}

	err := r.updateTests(ctx, func(t map[int64][]domain.TestQuestion) {
		if len(questions) == 0 {
			delete(t, moduleID)
			return
		}
		t[moduleID] = questions
	})
	if err != nil {
		return err
	}
	slog.Info("module test saved", "module_id", moduleID, "questions", len(questions))
	return nil
}

// resize saves next and sets every user's total for changed to its lesson
// count, clamping counters. The module list is restored if the roster write
// fails.
func (r *Repository) resize(ctx context.Context, prev, next []domain.Module, changed domain.Module) error {
	if err := r.saveModules(ctx, next); err != nil {
		return err
	}

	total := len(changed.Lessons)
	err := r.roster.ApplyAll(ctx, func(u domain.User) domain.User {
		if p, ok := u.Progress[changed.ID]; ok {
			u.Progress[changed.ID] = progress.ResizeModuleProgress(p, total)
		}
		return u
	})
	if err != nil {
		r.rollbackModules(ctx, prev)
		return fmt.Errorf("resize module progress: %w", err)
	}
	return nil
}

func (r *Repository) saveModules(ctx context.Context, modules []domain.Module) error {
	if modules == nil {
		modules = []domain.Module{}
	}
	return kv.SetJSON(ctx, r.store, kv.KeyModules, modules)
}

func (r *Repository) rollbackModules(ctx context.Context, prev []domain.Module) {
	if err := r.saveModules(ctx, prev); err != nil {
		slog.Error("failed to restore module list", "error", err)
	}
}

func (r *Repository) allContent(ctx context.Context) (map[string]domain.ContentRecord, error) {
	c := map[string]domain.ContentRecord{}
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyLessonContent, &c); err != nil {
		return nil, err
	}
	if c == nil {
		c = map[string]domain.ContentRecord{}
	}
	return c, nil
}

func (r *Repository) updateContent(ctx context.Context, fn func(map[string]domain.ContentRecord)) error {
	c, err := r.allContent(ctx)
	if err != nil {
		return err
	}
	fn(c)
	return kv.SetJSON(ctx, r.store, kv.KeyLessonContent, c)
}

func (r *Repository) allTests(ctx context.Context) (map[int64][]domain.TestQuestion, error) {
	t := map[int64][]domain.TestQuestion{}
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyModuleTests, &t); err != nil {
		return nil, err
	}
	if t == nil {
		t = map[int64][]domain.TestQuestion{}
	}
	return t, nil
}

func (r *Repository) updateTests(ctx context.Context, fn func(map[int64][]domain.TestQuestion)) error {
	t, err := r.allTests(ctx)
	if err != nil {
		return err
	}
	fn(t)
	return kv.SetJSON(ctx, r.store, kv.KeyModuleTests, t)
}

func moduleIndex(modules []domain.Module, id int64) int {
	return slices.IndexFunc(modules, func(m domain.Module) bool { return m.ID == id })
}

func findLesson(modules []domain.Module, lessonID string) (domain.Module, int, bool) {
	for _, m := range modules {
		if j := m.LessonIndex(lessonID); j >= 0 {
			return m, j, true
		}
	}
	return domain.Module{}, -1, false
}

func cloneModules(modules []domain.Module) []domain.Module {
	out := make([]domain.Module, len(modules))
	for i, m := range modules {
		out[i] = m.Clone()
	}
	return out
}
