// Package learner runs the signed-in learner's dashboard: module catalog,
// lesson progress, final tests and the assistant chat toggle.
package learner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/sqb-ai/istudy/internal/content"
	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/events"
	"github.com/sqb-ai/istudy/internal/kv"
	"github.com/sqb-ai/istudy/internal/progress"
	"github.com/sqb-ai/istudy/internal/roster"
	"github.com/sqb-ai/istudy/internal/session"
)

// ErrNotLearner is returned when Open is given an admin session.
var ErrNotLearner = errors.New("session is not a learner session")

// Deps are the collaborators a dashboard needs. A nil Events logs nothing
// and a nil Now means time.Now.
type Deps struct {
	Store   kv.Store
	Roster  *roster.Roster
	Content *content.Repository
	Events  events.Logger
	Now     func() time.Time
}

// Dashboard applies progress transitions for one learner. Every change goes
// through a roster action, so admin edits made meanwhile are never lost.
type Dashboard struct {
	store   kv.Store
	roster  *roster.Roster
	content *content.Repository
	events  events.Logger
	now     func() time.Time

	email string
	name  string
}

// Outcome is the result of a submitted test.
type Outcome struct {
	Score       int
	Correct     int
	Questions   int
	Passed      bool
	AllComplete bool
}

// Entry is one module as the learner sees it.
type Entry struct {
	Module   domain.Module
	Progress domain.ModuleProgress
	Percent  int
	HasTest  bool
	Result   *domain.TestResult
}

// Open loads the learner for s. The roster entry wins; otherwise the
// learner's own snapshot is restored; otherwise a fresh record is created.
// Progress is brought in line with the live catalog and the result is
// reconciled into the roster.
func Open(ctx context.Context, deps Deps, s session.Session) (*Dashboard, error) {
	if s.Role != session.RoleUser {
		return nil, ErrNotLearner
	}
	d := &Dashboard{
		store:   deps.Store,
		roster:  deps.Roster,
		content: deps.Content,
		events:  deps.Events,
		now:     deps.Now,
		email:   s.Email,
		name:    s.Name,
	}
	if d.events == nil {
		d.events = events.NopLogger{}
	}
	if d.now == nil {
		d.now = time.Now
	}

	modules, err := d.content.Modules(ctx)
	if err != nil {
		return nil, err
	}

	u, source, err := d.load(ctx, modules)
	if err != nil {
		return nil, err
	}
	u = syncProgress(u, modules)
	if err := d.roster.Reconcile(ctx, u); err != nil {
		return nil, fmt.Errorf("reconcile learner: %w", err)
	}
	d.name = u.DisplayName()
	if err := d.snapshot(ctx, u); err != nil {
		return nil, err
	}

	slog.Info("learner dashboard opened", "user_email", d.email, "source", source)
	return d, nil
}

func (d *Dashboard) load(ctx context.Context, modules []domain.Module) (domain.User, string, error) {
	if u, ok := d.roster.FindByEmail(d.email); ok {
		return u, "roster", nil
	}

	var snap domain.User
	found, err := kv.GetJSON(ctx, d.store, kv.UserKey(d.name), &snap)
	if err != nil {
		slog.Warn("ignoring unreadable learner snapshot", "user_email", d.email, "error", err)
	}
	if found && err == nil && domain.SameEmail(snap.Email, d.email) {
		return snap.Clone(), "snapshot", nil
	}

	return domain.NewLearner(d.name, d.email, modules, d.now()), "new", nil
}

// User returns the learner's current roster record.
func (d *Dashboard) User() (domain.User, error) {
	u, ok := d.roster.FindByEmail(d.email)
	if !ok {
		return domain.User{}, fmt.Errorf("learner %s: %w", d.email, roster.ErrUserNotFound)
	}
	return u, nil
}

// Name is the learner's display name.
func (d *Dashboard) Name() string { return d.name }

// Catalog lists the live modules with the learner's progress.
func (d *Dashboard) Catalog(ctx context.Context) ([]Entry, error) {
	modules, err := d.content.Modules(ctx)
	if err != nil {
		return nil, err
	}
	u, err := d.User()
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(modules))
	for _, m := range modules {
		p := u.Progress[m.ID]
		test, err := d.content.ModuleTest(ctx, m.ID)
		if err != nil {
			return nil, err
		}
		e := Entry{Module: m, Progress: p, Percent: p.Percent(), HasTest: len(test) > 0}
		for _, r := range u.TestResults {
			if r.ModuleID == m.ID {
				e.Result = &r
			}
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Lesson returns the lesson at index in a module together with its body.
func (d *Dashboard) Lesson(ctx context.Context, moduleID int64, index int) (domain.Lesson, domain.ContentRecord, error) {
	m, err := d.content.Module(ctx, moduleID)
	if err != nil {
		return domain.Lesson{}, domain.ContentRecord{}, err
	}
	if index < 0 || index >= len(m.Lessons) {
		return domain.Lesson{}, domain.ContentRecord{}, fmt.Errorf("lesson %d of module %d: %w", index, moduleID, content.ErrLessonNotFound)
	}
	l := m.Lessons[index]
	rec, ok, err := d.content.LessonContent(ctx, l.ID)
	if err != nil {
		return domain.Lesson{}, domain.ContentRecord{}, err
	}
	if !ok {
		rec = domain.ContentRecord{Title: l.Name, Content: domain.DefaultLessonContent}
	}
	return l, rec, nil
}

// StartModule opens a module and returns the lesson index to show.
func (d *Dashboard) StartModule(ctx context.Context, moduleID int64, restart bool) (int, error) {
	var lesson int
	_, err := d.mutate(ctx, func(u domain.User) (domain.User, error) {
		out, l, ok := progress.StartModule(u, moduleID, restart)
		if !ok {
			return u, fmt.Errorf("start module %d: %w", moduleID, content.ErrModuleNotFound)
		}
		lesson = l
		return out, nil
	}, events.Event{Type: events.TypeModuleStarted, ModuleID: moduleID, Data: map[string]any{"restart": restart}})
	if err != nil {
		return 0, err
	}
	return lesson, nil
}

// CompleteLesson records one more viewed lesson in a module.
func (d *Dashboard) CompleteLesson(ctx context.Context, moduleID int64) (domain.ModuleProgress, error) {
	u, err := d.mutate(ctx, func(u domain.User) (domain.User, error) {
		out, ok := progress.CompleteLesson(u, moduleID)
		if !ok {
			return u, fmt.Errorf("complete lesson in %d: %w", moduleID, content.ErrModuleNotFound)
		}
		return out, nil
	}, events.Event{Type: events.TypeLessonViewed, ModuleID: moduleID})
	if err != nil {
		return domain.ModuleProgress{}, err
	}
	return u.Progress[moduleID], nil
}

// SubmitTest grades answers against the module's final test and marks the
// module complete. A module without a test completes with full marks.
func (d *Dashboard) SubmitTest(ctx context.Context, moduleID int64, answers []int) (Outcome, error) {
	m, err := d.content.Module(ctx, moduleID)
	if err != nil {
		return Outcome{}, err
	}
	questions, err := d.content.ModuleTest(ctx, moduleID)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Questions: len(questions), Score: 100}
	if len(questions) > 0 {
		out.Score = progress.Score(questions, answers)
		for i, q := range questions {
			if i < len(answers) && q.Correct(answers[i]) {
				out.Correct++
			}
		}
	}
	out.Passed = progress.Passed(out.Score)

	u, err := d.mutate(ctx, func(u domain.User) (domain.User, error) {
		next, ok := progress.CompleteModuleTest(u, m, out.Score, d.now())
		if !ok {
			return u, fmt.Errorf("submit test for %d: %w", moduleID, content.ErrModuleNotFound)
		}
		return next, nil
	}, events.Event{Type: events.TypeTestCompleted, ModuleID: moduleID, Data: map[string]any{"score": out.Score}})
	if err != nil {
		return Outcome{}, err
	}

	out.AllComplete = progress.AllModulesComplete(u.Progress)
	return out, nil
}

// TrackTime adds study minutes.
func (d *Dashboard) TrackTime(ctx context.Context, minutes int) error {
	_, err := d.mutate(ctx, func(u domain.User) (domain.User, error) {
		return progress.AddTime(u, minutes), nil
	}, events.Event{})
	return err
}

// ChatVisible reports whether the assistant chat is open.
func (d *Dashboard) ChatVisible(ctx context.Context) (bool, error) {
	return kv.GetBool(ctx, d.store, kv.ChatKey(d.name))
}

// OpenChat shows the assistant chat.
func (d *Dashboard) OpenChat(ctx context.Context) error {
	return kv.SetBool(ctx, d.store, kv.ChatKey(d.name), true)
}

// CloseChat hides the assistant chat until the next time every module is
// completed.
func (d *Dashboard) CloseChat(ctx context.Context) error {
	return kv.SetBool(ctx, d.store, kv.ChatKey(d.name), false)
}

// mutate applies fn through the roster, then writes the snapshot, logs ev
// and opens the chat when this change completed the last module.
func (d *Dashboard) mutate(ctx context.Context, fn func(domain.User) (domain.User, error), ev events.Event) (domain.User, error) {
	var wasComplete bool
	u, err := d.roster.Update(ctx, d.email, func(u domain.User) (domain.User, error) {
		wasComplete = progress.AllModulesComplete(u.Progress)
		next, err := fn(u)
		if err != nil {
			return u, err
		}
		next.Touch(d.now())
		return next, nil
	})
	if err != nil {
		return domain.User{}, err
	}

	if err := d.snapshot(ctx, u); err != nil {
		return domain.User{}, err
	}

	if ev.Type != "" {
		ev.UserEmail = d.email
		if err := d.events.Log(ctx, ev); err != nil {
			slog.Warn("failed to log learning event", "type", ev.Type, "user_email", d.email, "error", err)
		}
	}

	if !wasComplete && progress.AllModulesComplete(u.Progress) {
		if err := d.OpenChat(ctx); err != nil {
			return domain.User{}, err
		}
		slog.Info("all modules complete, assistant chat opened", "user_email", d.email)
	}
	return u, nil
}

func (d *Dashboard) snapshot(ctx context.Context, u domain.User) error {
	if err := kv.SetJSON(ctx, d.store, kv.UserKey(d.name), u); err != nil {
		return fmt.Errorf("save learner snapshot: %w", err)
	}
	return nil
}

// syncProgress gives u an entry for every live module, resizes stale totals
// and drops entries for modules that no longer exist.
func syncProgress(u domain.User, modules []domain.Module) domain.User {
	out := u.Clone()
	live := make(map[int64]bool, len(modules))
	for _, m := range modules {
		live[m.ID] = true
		p, ok := out.Progress[m.ID]
		switch {
		case !ok:
			out.Progress[m.ID] = domain.NewModuleProgress(m)
		case p.Total != len(m.Lessons):
			out.Progress[m.ID] = progress.ResizeModuleProgress(p, len(m.Lessons))
		}
	}
	maps.DeleteFunc(out.Progress, func(id int64, _ domain.ModuleProgress) bool { return !live[id] })
	return out
}
