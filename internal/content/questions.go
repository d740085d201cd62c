package content

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/sqb-ai/istudy/internal/domain"
	"github.com/sqb-ai/istudy/internal/kv"
)

// AgentQuestions returns the questionnaire in order.
func (r *Repository) AgentQuestions(ctx context.Context) ([]domain.AgentQuestion, error) {
	var qs []domain.AgentQuestion
	if _, err := kv.GetJSON(ctx, r.store, kv.KeyAgentQuestions, &qs); err != nil {
		return nil, err
	}
	slices.SortStableFunc(qs, func(a, b domain.AgentQuestion) int { return a.Order - b.Order })
	return qs, nil
}

// AddAgentQuestion appends a question. The question and every option must be
// filled in.
func (r *Repository) AddAgentQuestion(ctx context.Context, in domain.AgentQuestionInput) (domain.AgentQuestion, error) {
	if err := in.Validate(); err != nil {
		return domain.AgentQuestion{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	qs, err := r.AgentQuestions(ctx)
	if err != nil {
		return domain.AgentQuestion{}, err
	}

	var maxID int64
	for _, q := range qs {
		maxID = max(maxID, q.ID)
	}
	q := newAgentQuestion(maxID+1, len(qs), in.Question, in.Options)

	if err := kv.SetJSON(ctx, r.store, kv.KeyAgentQuestions, append(qs, q)); err != nil {
		return domain.AgentQuestion{}, err
	}
	slog.Info("agent question added", "question_id", q.ID)
	return q, nil
}

// UpdateAgentQuestion replaces the text and options of a question, keeping
// its position.
func (r *Repository) UpdateAgentQuestion(ctx context.Context, id int64, in domain.AgentQuestionInput) (domain.AgentQuestion, error) {
	if err := in.Validate(); err != nil {
		return domain.AgentQuestion{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	qs, err := r.AgentQuestions(ctx)
	if err != nil {
		return domain.AgentQuestion{}, err
	}
	i := slices.IndexFunc(qs, func(q domain.AgentQuestion) bool { return q.ID == id })
	if i < 0 {
		return domain.AgentQuestion{}, fmt.Errorf("update question %d: %w", id, ErrQuestionNotFound)
	}

	qs[i] = newAgentQuestion(id, qs[i].Order, in.Question, in.Options)
	if err := kv.SetJSON(ctx, r.store, kv.KeyAgentQuestions, qs); err != nil {
		return domain.AgentQuestion{}, err
	}
	return qs[i], nil
}

// DeleteAgentQuestion removes a question and renumbers the rest.
func (r *Repository) DeleteAgentQuestion(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	qs, err := r.AgentQuestions(ctx)
	if err != nil {
		return err
	}
	i := slices.IndexFunc(qs, func(q domain.AgentQuestion) bool { return q.ID == id })
	if i < 0 {
		return fmt.Errorf("delete question %d: %w", id, ErrQuestionNotFound)
	}

	qs = slices.Delete(qs, i, i+1)
	for j := range qs {
		qs[j].Order = j
	}
	if qs == nil {
		qs = []domain.AgentQuestion{}
	}
	if err := kv.SetJSON(ctx, r.store, kv.KeyAgentQuestions, qs); err != nil {
		return err
	}
	slog.Info("agent question deleted", "question_id", id)
	return nil
}
