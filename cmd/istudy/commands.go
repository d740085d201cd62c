package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sqb-ai/istudy/internal/session"
)

var errUsage = errors.New("invalid usage")

// command is one istudy subcommand. A non-empty role means the command needs
// a persisted session with that role.
type command struct {
	name    string
	summary string
	role    session.Role
	run     func(ctx context.Context, a *app, s session.Session, args []string) error
}

var commands = []command{
	{"login", "sign in with -email and -password", "", cmdLogin},
	{"logout", "sign out", "", cmdLogout},
	{"whoami", "show the signed-in account", "", cmdWhoami},
	{"health", "check the store backend and AI providers", "", cmdHealth},

	{"users", "list learners, optionally filtered with -q", session.RoleAdmin, cmdUsers},
	{"add-user", "add a learner", session.RoleAdmin, cmdAddUser},
	{"edit-user", "edit a learner's profile", session.RoleAdmin, cmdEditUser},
	{"remove-user", "remove a learner by -id", session.RoleAdmin, cmdRemoveUser},
	{"modules", "list the module catalog", session.RoleAdmin, cmdModules},
	{"add-module", "add a module", session.RoleAdmin, cmdAddModule},
	{"delete-module", "delete a module by -id", session.RoleAdmin, cmdDeleteModule},
	{"add-lesson", "append a lesson to a module", session.RoleAdmin, cmdAddLesson},
	{"delete-lesson", "delete a lesson", session.RoleAdmin, cmdDeleteLesson},
	{"rename-lesson", "rename a lesson", session.RoleAdmin, cmdRenameLesson},
	{"set-content", "replace a lesson body", session.RoleAdmin, cmdSetContent},
	{"questions", "list the assistant questionnaire", session.RoleAdmin, cmdQuestions},
	{"add-question", "add a questionnaire entry", session.RoleAdmin, cmdAddQuestion},
	{"edit-question", "edit a questionnaire entry", session.RoleAdmin, cmdEditQuestion},
	{"delete-question", "delete a questionnaire entry", session.RoleAdmin, cmdDeleteQuestion},
	{"export-users", "export learners as csv or xlsx", session.RoleAdmin, cmdExportUsers},
	{"export-content", "export lesson content as JSON", session.RoleAdmin, cmdExportContent},
	{"import-content", "import lesson content from JSON", session.RoleAdmin, cmdImportContent},
	{"stats", "show platform statistics", session.RoleAdmin, cmdStats},
	{"activity", "show a learner's event counts", session.RoleAdmin, cmdActivity},

	{"catalog", "list modules with your progress", session.RoleUser, cmdCatalog},
	{"lesson", "show a lesson", session.RoleUser, cmdLesson},
	{"start-module", "start or restart a module", session.RoleUser, cmdStartModule},
	{"complete-lesson", "mark the next lesson of a module viewed", session.RoleUser, cmdCompleteLesson},
	{"submit-test", "submit answers to a module test", session.RoleUser, cmdSubmitTest},
	{"track-time", "add study minutes", session.RoleUser, cmdTrackTime},
	{"create-agent", "answer the questionnaire and create your assistant", session.RoleUser, cmdCreateAgent},
	{"chat", "send a message to your assistant", session.RoleUser, cmdChat},
	{"open-chat", "show the assistant chat", session.RoleUser, cmdOpenChat},
	{"close-chat", "hide the assistant chat", session.RoleUser, cmdCloseChat},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// exec restores the session the command needs and runs it.
func (a *app) exec(ctx context.Context, cmd command, args []string) error {
	var s session.Session
	if cmd.role != "" {
		cur, ok, err := a.session.Restore(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("not signed in, run: istudy login")
		}
		if cur.Role != cmd.role {
			return fmt.Errorf("%s is only available to the %s role", cmd.name, cmd.role)
		}
		s = cur
	}
	return cmd.run(ctx, a, s, args)
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// required reports the first empty flag among name/value pairs.
func required(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: -%s is required", errUsage, pairs[i])
		}
	}
	return nil
}

// splitList splits a ";"-separated flag value.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseAnswers reads "1,0,2" into option indexes.
func parseAnswers(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("%w: answer %q is not a number", errUsage, f)
		}
		out = append(out, n)
	}
	return out, nil
}

// openOutput returns path for writing, or stdout for "" and "-".
func (a *app) openOutput(path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return a.out, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}

// openInput returns path for reading, or stdin for "" and "-".
func (a *app) openInput(path string) (io.Reader, func() error, error) {
	if path == "" || path == "-" {
		return a.in, func() error { return nil }, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, f.Close, nil
}

func cmdLogin(ctx context.Context, a *app, _ session.Session, args []string) error {
	fs := a.flags("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := parse(fs, args); err != nil {
		return err
	}

	s, err := a.session.Login(ctx, *email, *password)
	if err != nil {
		if msg := session.Message(err); msg != "" {
			return errors.New(msg)
		}
		return err
	}

	if s.Role == session.RoleUser {
		d, err := a.dashboard(ctx, s)
		if err != nil {
			return err
		}
		s.Name = d.Name()
	}
	fmt.Fprintf(a.out, "Добро пожаловать, %s!\n", s.Name)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ session.Session, args []string) error {
	if err := parse(a.flags("logout"), args); err != nil {
		return err
	}
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Вы вышли из системы")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ session.Session, args []string) error {
	if err := parse(a.flags("whoami"), args); err != nil {
		return err
	}
	s, ok, err := a.session.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(a.out, "not signed in")
		return nil
	}
	fmt.Fprintf(a.out, "%s <%s> role=%s view=%s\n", s.Name, s.Email, s.Role, a.session.View())
	if s.Role != session.RoleUser {
		return nil
	}

	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	visible, err := d.ChatVisible(ctx)
	if err != nil {
		return err
	}
	if visible {
		fmt.Fprintln(a.out, "AI чат открыт")
	}
	if a.quota != nil {
		used, limit, err := a.quota.Usage(ctx, s.Email)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Токены: %d из %d\n", used, limit)
	}
	return nil
}

// cmdHealth reports each dependency on its own line and fails if any is down.
func cmdHealth(ctx context.Context, a *app, _ session.Session, args []string) error {
	if err := parse(a.flags("health"), args); err != nil {
		return err
	}

	var failed int
	report := func(name string, err error) {
		if err != nil {
			failed++
			fmt.Fprintf(a.out, "%s: %v\n", name, err)
			return
		}
		fmt.Fprintf(a.out, "%s: ok\n", name)
	}

	switch {
	case a.db != nil:
		report("store postgres", a.db.HealthCheck(ctx))
	case a.rdb != nil:
		report("store redis", a.rdb.HealthCheck(ctx))
	default:
		report("store "+a.cfg.Store.Backend, nil)
	}

	if !a.cfg.HasAIProvider() {
		fmt.Fprintln(a.out, "ai: no providers configured")
	}
	for _, c := range a.router.HealthCheck(ctx) {
		report("ai "+c.Name, c.Err)
	}

	if failed > 0 {
		return fmt.Errorf("%d health checks failed", failed)
	}
	return nil
}
