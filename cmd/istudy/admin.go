package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/sqb-ai/istudy/internal/content"
	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/events"
	"github.com/sqb-ai/istudy/internal/platform/config"
	"github.com/sqb-ai/istudy/internal/progress"
	"github.com/sqb-ai/istudy/internal/report"
	"github.com/sqb-ai/istudy/internal/session"
)

func cmdUsers(_ context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("users")
	query := fs.String("q", "", "filter by name, email or department")
	if err := parse(fs, args); err != nil {
		return err
	}

	users := a.roster.List()
	if *query != "" {
		users = a.roster.Search(*query)
	}

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tDEPARTMENT\tPROGRESS\tTESTS\tTIME\tLAST ACTIVITY")
	for _, r := range report.Rows(users) {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d%%\t%d\t%s\t%s\n",
			r.ID, r.Name, r.Email, r.Department, r.Progress, r.Tests, report.MinutesToHM(r.TimeSpent), r.LastActivity)
	}
	return tw.Flush()
}

func cmdAddUser(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("add-user")
	var in domain.NewUserInput
	fs.StringVar(&in.Name, "name", "", "full name")
	fs.StringVar(&in.Email, "email", "", "email")
	fs.StringVar(&in.Department, "department", domain.DefaultDepartment, "department")
	fs.StringVar(&in.Password, "password", "", "initial password, at least 6 characters")
	if err := parse(fs, args); err != nil {
		return err
	}

	modules, err := a.content.Modules(ctx)
	if err != nil {
		return err
	}
	u, err := domain.NewUser(in, modules, time.Now())
	if err != nil {
		return err
	}
	for {
		if _, taken := a.roster.FindByID(u.ID); !taken {
			break
		}
		u.ID++
	}
	if err := a.roster.Add(ctx, u); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Пользователь добавлен: %d %s\n", u.ID, u.Email)
	return nil
}

func cmdEditUser(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("edit-user")
	id := fs.Int64("id", 0, "user id")
	name := fs.String("name", "", "new name")
	email := fs.String("email", "", "new email")
	department := fs.String("department", "", "new department")
	password := fs.String("password", "", "new password, empty keeps the current one")
	if err := parse(fs, args); err != nil {
		return err
	}

	cur, ok := a.roster.FindByID(*id)
	if !ok {
		return fmt.Errorf("user %d not found", *id)
	}
	edit := domain.ProfileEdit{Name: cur.Name, Email: cur.Email, Department: cur.Department, Password: *password}
	if *name != "" {
		edit.Name = *name
	}
	if *email != "" {
		edit.Email = *email
	}
	if *department != "" {
		edit.Department = *department
	}

	u, err := a.roster.EditProfile(ctx, *id, edit)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Пользователь обновлён: %d %s\n", u.ID, u.Email)
	return nil
}

func cmdRemoveUser(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("remove-user")
	id := fs.Int64("id", 0, "user id")
	if err := parse(fs, args); err != nil {
		return err
	}
	u, err := a.roster.Remove(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Пользователь удалён: %s\n", u.Email)
	return nil
}

func cmdModules(ctx context.Context, a *app, _ session.Session, args []string) error {
	if err := parse(a.flags("modules"), args); err != nil {
		return err
	}
	modules, err := a.content.Modules(ctx)
	if err != nil {
		return err
	}
	for _, m := range modules {
		fmt.Fprintf(a.out, "%d %s %s (%d уроков, %s)\n", m.ID, m.Glyph(), m.Title, len(m.Lessons), report.MinutesToHM(m.Duration))
		for i, l := range m.Lessons {
			fmt.Fprintf(a.out, "    %d. %s [%s]\n", i+1, l.Name, l.ID)
		}
	}
	return nil
}

func cmdAddModule(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("add-module")
	title := fs.String("title", "", "module title")
	icon := fs.String("icon", "", "icon name")
	lessons := fs.String("lessons", "", "lesson names separated by ';'")
	if err := parse(fs, args); err != nil {
		return err
	}

	m, err := a.content.AddModule(ctx, domain.NewModuleInput{Title: *title, Icon: *icon, Lessons: splitList(*lessons)})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Модуль добавлен: %d %s\n", m.ID, m.Title)
	return nil
}

func cmdDeleteModule(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("delete-module")
	id := fs.Int64("id", 0, "module id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := a.content.DeleteModule(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Модуль удалён: %d\n", *id)
	return nil
}

func cmdAddLesson(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("add-lesson")
	moduleID := fs.Int64("module", 0, "module id")
	name := fs.String("name", "", "lesson name")
	title := fs.String("title", "", "content title, defaults to the name")
	if err := parse(fs, args); err != nil {
		return err
	}
	l, err := a.content.AddLesson(ctx, *moduleID, *name, *title)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Урок добавлен: %s %s\n", l.ID, l.Name)
	return nil
}

func cmdDeleteLesson(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("delete-lesson")
	moduleID := fs.Int64("module", 0, "module id")
	lessonID := fs.String("lesson", "", "lesson id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("lesson", *lessonID); err != nil {
		return err
	}
	if err := a.content.DeleteLesson(ctx, *moduleID, *lessonID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Урок удалён: %s\n", *lessonID)
	return nil
}

func cmdRenameLesson(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("rename-lesson")
	moduleID := fs.Int64("module", 0, "module id")
	lessonID := fs.String("lesson", "", "lesson id")
	name := fs.String("name", "", "new lesson name")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("lesson", *lessonID); err != nil {
		return err
	}
	if err := a.content.RenameLesson(ctx, *moduleID, *lessonID, *name); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Урок переименован: %s\n", *name)
	return nil
}

func cmdSetContent(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("set-content")
	lessonID := fs.String("lesson", "", "lesson id")
	title := fs.String("title", "", "content title")
	file := fs.String("file", "-", "file with the lesson body, '-' for stdin")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("lesson", *lessonID, "title", *title); err != nil {
		return err
	}

	r, closeFn, err := a.openInput(*file)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read lesson body: %w", err)
	}

	rec, _, err := a.content.LessonContent(ctx, *lessonID)
	if err != nil {
		return err
	}
	rec.Title = *title
	rec.Content = string(body)
	if err := a.content.SetLessonContent(ctx, *lessonID, rec); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Содержимое урока сохранено: %s\n", *lessonID)
	return nil
}

func cmdQuestions(ctx context.Context, a *app, _ session.Session, args []string) error {
	if err := parse(a.flags("questions"), args); err != nil {
		return err
	}
	qs, err := a.content.AgentQuestions(ctx)
	if err != nil {
		return err
	}
	for _, q := range qs {
		fmt.Fprintf(a.out, "%d. %s\n", q.ID, q.Question)
		for _, o := range q.Options {
			fmt.Fprintf(a.out, "    - %s\n", o.OptionText)
		}
	}
	return nil
}

func cmdAddQuestion(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("add-question")
	question := fs.String("question", "", "question text")
	options := fs.String("options", "", "options separated by ';'")
	if err := parse(fs, args); err != nil {
		return err
	}
	q, err := a.content.AddAgentQuestion(ctx, domain.AgentQuestionInput{Question: *question, Options: splitList(*options)})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Вопрос добавлен: %d\n", q.ID)
	return nil
}

func cmdEditQuestion(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("edit-question")
	id := fs.Int64("id", 0, "question id")
	question := fs.String("question", "", "question text")
	options := fs.String("options", "", "options separated by ';'")
	if err := parse(fs, args); err != nil {
		return err
	}
	q, err := a.content.UpdateAgentQuestion(ctx, *id, domain.AgentQuestionInput{Question: *question, Options: splitList(*options)})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Вопрос обновлён: %d\n", q.ID)
	return nil
}

func cmdDeleteQuestion(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("delete-question")
	id := fs.Int64("id", 0, "question id")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := a.content.DeleteAgentQuestion(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Вопрос удалён: %d\n", *id)
	return nil
}

func cmdExportUsers(_ context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("export-users")
	format := fs.String("format", "csv", "csv or xlsx")
	out := fs.String("o", "", "output file, stdout when empty")
	if err := parse(fs, args); err != nil {
		return err
	}

	var write func(w io.Writer, users []domain.User) error
	switch *format {
	case "csv":
		write = report.WriteUsersCSV
	case "xlsx":
		write = report.WriteUsersXLSX
	default:
		return fmt.Errorf("%w: -format must be csv or xlsx", errUsage)
	}

	w, closeFn, err := a.openOutput(*out)
	if err != nil {
		return err
	}
	if err := write(w, a.roster.List()); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

func cmdExportContent(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("export-content")
	out := fs.String("o", "", "output file, stdout when empty")
	if err := parse(fs, args); err != nil {
		return err
	}
	w, closeFn, err := a.openOutput(*out)
	if err != nil {
		return err
	}
	if err := a.content.ExportJSON(ctx, w); err != nil {
		_ = closeFn()
		return err
	}
	return closeFn()
}

func cmdImportContent(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("import-content")
	in := fs.String("i", "-", "input file, '-' for stdin")
	if err := parse(fs, args); err != nil {
		return err
	}
	r, closeFn, err := a.openInput(*in)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	res, err := a.content.ImportJSON(ctx, r)
	if errors.Is(err, content.ErrInvalidImport) {
		return fmt.Errorf("%s: %w", content.ImportFailedMessage, err)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Импортировано уроков: %d\n", res.Imported)
	for _, id := range res.Skipped {
		fmt.Fprintf(a.out, "Пропущен неизвестный урок: %s\n", id)
	}
	return nil
}

func cmdStats(ctx context.Context, a *app, _ session.Session, args []string) error {
	if err := parse(a.flags("stats"), args); err != nil {
		return err
	}
	modules, err := a.content.Modules(ctx)
	if err != nil {
		return err
	}
	s := progress.Summarize(a.roster.List(), modules)

	fmt.Fprintf(a.out, "Пользователей: %d (активных: %d)\n", s.TotalUsers, s.ActiveUsers)
	fmt.Fprintf(a.out, "Средний прогресс: %d%%\n", s.AverageProgress)
	fmt.Fprintf(a.out, "Пройдено тестов: %d (средний балл: %d%%)\n", s.TotalTests, s.AverageTestScore)
	fmt.Fprintf(a.out, "Завершено модулей: %d\n", s.CompletedModules)
	fmt.Fprintf(a.out, "Время обучения: %s\n", report.MinutesToHM(s.TotalTimeSpent))

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nMODULE\tSTARTED\tCOMPLETED\tRATE")
	for _, m := range s.Modules {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d%%\n", m.Title, m.UsersStarted, m.UsersCompleted, m.CompletionRate)
	}
	fmt.Fprintln(tw, "\nDEPARTMENT\tUSERS\tPROGRESS\t")
	for _, d := range s.Departments {
		fmt.Fprintf(tw, "%s\t%d\t%d%%\t\n", d.Name, d.Users, d.AverageProgress)
	}
	return tw.Flush()
}

func cmdActivity(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("activity")
	email := fs.String("email", "", "learner email")
	if err := parse(fs, args); err != nil {
		return err
	}
	if err := required("email", *email); err != nil {
		return err
	}
	counter, ok := a.events.(events.Counter)
	if !ok {
		return fmt.Errorf("activity history needs the %s store backend", config.BackendPostgres)
	}

	counts, err := counter.Counts(ctx, domain.NormalizeEmail(*email))
	if err != nil {
		return err
	}
	types := slices.Sorted(maps.Keys(counts))
	if len(types) == 0 {
		fmt.Fprintln(a.out, "Нет активности")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EVENT\tCOUNT")
	for _, t := range types {
		fmt.Fprintf(tw, "%s\t%d\n", t, counts[t])
	}
	return tw.Flush()
}
