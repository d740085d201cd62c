package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sqb-ai/istudy/internal/agent"
	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/session"
)

func cmdCatalog(ctx context.Context, a *app, s session.Session, args []string) error {
	if err := parse(a.flags("catalog"), args); err != nil {
		return err
	}
	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	entries, err := d.Catalog(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		line := fmt.Sprintf("%d %s: %d/%d (%d%%)", e.Module.ID, e.Module.Title, e.Progress.Completed, e.Progress.Total, e.Percent)
		if e.Result != nil {
			line += fmt.Sprintf(", тест: %d%%", e.Result.Score)
		} else if e.HasTest {
			line += ", тест не пройден"
		}
		fmt.Fprintln(a.out, line)
	}
	return nil
}

func cmdLesson(ctx context.Context, a *app, s session.Session, args []string) error {
	fs := a.flags("lesson")
	moduleID := fs.Int64("module", 0, "module id")
	index := fs.Int("index", 1, "lesson number, starting at 1")
	if err := parse(fs, args); err != nil {
		return err
	}
	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	l, rec, err := d.Lesson(ctx, *moduleID, *index-1)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\n%s\n\n%s\n", l.Name, rec.Title, rec.Content)
	return nil
}

func cmdStartModule(ctx context.Context, a *app, s session.Session, args []string) error {
	fs := a.flags("start-module")
	id := fs.Int64("id", 0, "module id")
	restart := fs.Bool("restart", false, "reset progress and start from the first lesson")
	if err := parse(fs, args); err != nil {
		return err
	}
	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	lesson, err := d.StartModule(ctx, *id, *restart)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Модуль %d: урок %d\n", *id, lesson+1)
	return nil
}

func cmdCompleteLesson(ctx context.Context, a *app, s session.Session, args []string) error {
	fs := a.flags("complete-lesson")
	moduleID := fs.Int64("module", 0, "module id")
	if err := parse(fs, args); err != nil {
		return err
	}
	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	p, err := d.CompleteLesson(ctx, *moduleID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Модуль %d: просмотрено %d/%d уроков\n", *moduleID, p.Viewed, p.Total)
	return nil
}

func cmdSubmitTest(ctx context.Context, a *app, s session.Session, args []string) error {
	fs := a.flags("submit-test")
	moduleID := fs.Int64("module", 0, "module id")
	raw := fs.String("answers", "", "chosen option indexes, comma separated, starting at 0")
	if err := parse(fs, args); err != nil {
		return err
	}
	answers, err := parseAnswers(*raw)
	if err != nil {
		return err
	}
	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	out, err := d.SubmitTest(ctx, *moduleID, answers)
	if err != nil {
		return err
	}

	verdict := "не сдан"
	if out.Passed {
		verdict = "сдан"
	}
	fmt.Fprintf(a.out, "Результат: %d%% (%d из %d), тест %s\n", out.Score, out.Correct, out.Questions, verdict)
	if out.AllComplete {
		fmt.Fprintln(a.out, "Все модули пройдены! Создайте своего AI агента: istudy create-agent")
	}
	return nil
}

func cmdTrackTime(ctx context.Context, a *app, s session.Session, args []string) error {
	fs := a.flags("track-time")
	minutes := fs.Int("minutes", 0, "minutes studied")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *minutes <= 0 {
		return fmt.Errorf("%w: -minutes must be positive", errUsage)
	}
	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	return d.TrackTime(ctx, *minutes)
}

// cmdCreateAgent runs the questionnaire. Answers come from -answers, or are
// read one per line from stdin as an option number or its text.
func cmdCreateAgent(ctx context.Context, a *app, s session.Session, args []string) error {
	fs := a.flags("create-agent")
	preset := fs.String("answers", "", "answers separated by ';'")
	if err := parse(fs, args); err != nil {
		return err
	}

	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	qs, err := a.content.AgentQuestions(ctx)
	if err != nil {
		return err
	}

	w := agent.NewWizard(qs)
	for _, line := range w.Greeting() {
		fmt.Fprintln(a.out, line)
	}
	q, err := w.Start()
	if err != nil {
		return err
	}

	answers := splitList(*preset)
	scanner := bufio.NewScanner(a.in)
	for !w.Done() {
		printQuestion(a, q)

		var choice string
		if *preset != "" {
			if len(answers) == 0 {
				return fmt.Errorf("%w: -answers has fewer entries than the questionnaire", errUsage)
			}
			choice, answers = answers[0], answers[1:]
		} else {
			if !scanner.Scan() {
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read answer: %w", err)
				}
				return errors.New("questionnaire interrupted")
			}
			choice = pickOption(q, scanner.Text())
		}

		next, _, err := w.Answer(choice)
		if errors.Is(err, agent.ErrInvalidOption) {
			if *preset != "" {
				return err
			}
			fmt.Fprintln(a.out, "Выберите один из вариантов")
			continue
		}
		if err != nil {
			return err
		}
		q = next
	}

	data, err := agent.SaveAgentData(ctx, a.store, d.Name(), w.Answers(), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, agent.DoneMessage)
	if _, err := a.assistant.Initialize(ctx, s.Email, data.Answers); err != nil {
		return err
	}

	p := w.Profile()
	fmt.Fprintln(a.out, agent.CreatedTitle)
	fmt.Fprintf(a.out, "Область: %s\nМодель: %s\nПерсонализация: %s\n", p.Area, p.Model, p.Personalization)
	return nil
}

func printQuestion(a *app, q domain.AgentQuestion) {
	fmt.Fprintf(a.out, "\n%s\n", q.Question)
	for i, o := range q.OptionTexts() {
		fmt.Fprintf(a.out, "  %d) %s\n", i+1, o)
	}
}

// pickOption resolves a typed option number to its text.
func pickOption(q domain.AgentQuestion, input string) string {
	input = strings.TrimSpace(input)
	if n, err := strconv.Atoi(input); err == nil && n >= 1 && n <= len(q.Options) {
		return q.OptionTexts()[n-1]
	}
	return input
}

func cmdChat(ctx context.Context, a *app, s session.Session, args []string) error {
	fs := a.flags("chat")
	if err := parse(fs, args); err != nil {
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if err := required("message", text); err != nil {
		return err
	}

	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	history, err := a.assistant.History(ctx, s.Email)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		data, ok, err := agent.LoadAgentData(ctx, a.store, d.Name())
		if err != nil {
			return err
		}
		if ok {
			if _, err := a.assistant.Initialize(ctx, s.Email, data.Answers); err != nil {
				return err
			}
		}
	}

	reply, err := a.assistant.Send(ctx, s.Email, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, reply.Text)
	return nil
}

func cmdOpenChat(ctx context.Context, a *app, s session.Session, args []string) error {
	if err := parse(a.flags("open-chat"), args); err != nil {
		return err
	}
	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	return d.OpenChat(ctx)
}

func cmdCloseChat(ctx context.Context, a *app, s session.Session, args []string) error {
	if err := parse(a.flags("close-chat"), args); err != nil {
		return err
	}
	d, err := a.dashboard(ctx, s)
	if err != nil {
		return err
	}
	return d.CloseChat(ctx)
}
