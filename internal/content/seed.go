package content

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sqb-ai/istudy/internal/domain"
)

//go:embed seed/default.yaml
var defaultSeed embed.FS

// Seed is a catalog described in YAML.
type Seed struct {
	Modules        []SeedModule        `yaml:"modules"`
	AgentQuestions []SeedAgentQuestion `yaml:"agent_questions"`
}

// SeedModule is one module with its lessons and final test.
type SeedModule struct {
	ID      int64          `yaml:"id"`
	Title   string         `yaml:"title"`
	Icon    string         `yaml:"icon"`
	Lessons []SeedLesson   `yaml:"lessons"`
	Test    []SeedQuestion `yaml:"test"`
}

// SeedLesson is a lesson name plus optional body.
type SeedLesson struct {
	Name    string `yaml:"name"`
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// SeedQuestion is a test question.
type SeedQuestion struct {
	Question      string   `yaml:"question"`
	Options       []string `yaml:"options"`
	CorrectAnswer int      `yaml:"correct_answer"`
}

// SeedAgentQuestion is a questionnaire entry.
type SeedAgentQuestion struct {
	Question string   `yaml:"question"`
	Options  []string `yaml:"options"`
}

// LoadSeed reads a catalog. An empty path selects the built-in catalog; a
// directory is walked and every .yaml/.yml file in it is merged in lexical
// order.
func LoadSeed(path string) (*Seed, error) {
	if path == "" {
		data, err := defaultSeed.ReadFile("seed/default.yaml")
		if err != nil {
			return nil, fmt.Errorf("read built-in seed: %w", err)
		}
		return parseSeed(data, "built-in")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat seed %s: %w", path, err)
	}
	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read seed %s: %w", path, err)
		}
		return parseSeed(data, path)
	}

	merged := &Seed{}
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if !strings.HasSuffix(p, ".yaml") && !strings.HasSuffix(p, ".yml") {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		part, err := parseSeed(data, p)
		if err != nil {
			return err
		}
		merged.Modules = append(merged.Modules, part.Modules...)
		merged.AgentQuestions = append(merged.AgentQuestions, part.AgentQuestions...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load seed directory %s: %w", path, err)
	}

	slog.Info("seed loaded", "path", path, "modules", len(merged.Modules), "agent_questions", len(merged.AgentQuestions))
	return merged, nil
}

func parseSeed(data []byte, source string) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", source, err)
	}

	seen := map[int64]bool{}
	for i, m := range s.Modules {
		if m.ID == 0 {
			return nil, fmt.Errorf("seed %s: module %d has no id", source, i)
		}
		if seen[m.ID] {
			return nil, fmt.Errorf("seed %s: duplicate module id %d", source, m.ID)
		}
		seen[m.ID] = true
	}
	return &s, nil
}

// catalog is a seed turned into the stored shapes.
type catalog struct {
	modules        []domain.Module
	content        map[string]domain.ContentRecord
	tests          map[int64][]domain.TestQuestion
	agentQuestions []domain.AgentQuestion
}

func (s *Seed) build() (catalog, error) {
	c := catalog{
		modules: make([]domain.Module, 0, len(s.Modules)),
		content: map[string]domain.ContentRecord{},
		tests:   map[int64][]domain.TestQuestion{},
	}

	for _, sm := range s.Modules {
		m := domain.Module{ID: sm.ID, Title: sm.Title, Icon: sm.Icon}
		for _, sl := range sm.Lessons {
			l := domain.NewLesson(sl.Name)
			m.Lessons = append(m.Lessons, l)

			rec := domain.ContentRecord{Title: sl.Title, Content: strings.TrimSpace(sl.Content)}
			if rec.Title == "" {
				rec.Title = l.Name
			}
			if rec.Content == "" {
				rec.Content = domain.DefaultLessonContent
			}
			c.content[l.ID] = rec
		}
		m.Duration = len(m.Lessons) * domain.MinutesPerLesson
		c.modules = append(c.modules, m)

		if len(sm.Test) > 0 {
			qs := make([]domain.TestQuestion, len(sm.Test))
			for i, q := range sm.Test {
				qs[i] = domain.TestQuestion{Question: q.Question, Options: q.Options, CorrectAnswer: q.CorrectAnswer}
			}
			if err := domain.ValidateTest(qs); err != nil {
				return catalog{}, fmt.Errorf("seed module %d test: %w", sm.ID, err)
			}
			c.tests[sm.ID] = qs
		}
	}

	for i, sq := range s.AgentQuestions {
		c.agentQuestions = append(c.agentQuestions, newAgentQuestion(int64(i+1), i, sq.Question, sq.Options))
	}
	return c, nil
}

func newAgentQuestion(id int64, order int, text string, options []string) domain.AgentQuestion {
	q := domain.AgentQuestion{ID: id, Question: text, Order: order}
	for j, o := range options {
		q.Options = append(q.Options, domain.AgentOption{ID: id*100 + int64(j+1), OptionText: o, Order: j})
	}
	return q
}
