// Package progress implements the learner state transitions and the derived
// figures computed from them. Every function is pure: inputs are cloned, never
// mutated.
package progress

import (
	"math"
	"time"

	"github.com/sqb-ai/istudy/internal/domain"
)

// PassThreshold is the score shown as a pass. It does not affect completion.
const PassThreshold = 70

// Passed reports whether score reaches PassThreshold.
func Passed(score int) bool {
	return score >= PassThreshold
}

// StartModule opens a module for the learner. A restart, or a module never
// started, resets the counters and begins at lesson 0; otherwise the learner
// resumes at the lesson after the highest completed one. ok is false and u is
// returned unchanged when the module is not in the learner's progress.
func StartModule(u domain.User, moduleID int64, restart bool) (out domain.User, lesson int, ok bool) {
	p, ok := u.Progress[moduleID]
	if !ok {
		return u, 0, false
	}

	out = u.Clone()
	if restart || !p.Started {
		p.Viewed = 0
		p.Completed = 0
	}
	p.Started = true
	out.Progress[moduleID] = p

	lesson = p.Completed
	if p.Total > 0 && lesson >= p.Total {
		lesson = p.Total - 1
	}
	return out, lesson, true
}

// CompleteLesson records one more viewed lesson, never past the total. Module
// completion only advances through CompleteModuleTest.
func CompleteLesson(u domain.User, moduleID int64) (domain.User, bool) {
	p, ok := u.Progress[moduleID]
	if !ok {
		return u, false
	}

	out := u.Clone()
	p.Viewed = min(p.Viewed+1, p.Total)
	out.Progress[moduleID] = p
	return out, true
}

// CompleteModuleTest stores the test result, replacing any earlier result for
// the module, and marks the module complete whatever the score.
func CompleteModuleTest(u domain.User, m domain.Module, score int, now time.Time) (domain.User, bool) {
	p, ok := u.Progress[m.ID]
	if !ok {
		return u, false
	}

	out := u.Clone()
	results := out.TestResults[:0]
	for _, r := range out.TestResults {
		if r.ModuleID != m.ID {
			results = append(results, r)
		}
	}
	out.TestResults = append(results, domain.TestResult{
		ModuleID:    m.ID,
		LessonTitle: m.Title,
		Score:       clampScore(score),
		Date:        now.Format(domain.DateLayout),
		Time:        now.Format(domain.TimeLayout),
	})

	p.Completed = p.Total
	p.Viewed = max(p.Viewed, p.Total)
	out.Progress[m.ID] = p
	return out, true
}

// OverallProgress is the share of completed lesson units across all modules,
// so larger modules weigh more. It is 0 when there are no units at all.
func OverallProgress(progress map[int64]domain.ModuleProgress) int {
	var done, total int
	for _, p := range progress {
		done += max(p.Completed, 0)
		total += max(p.Total, 0)
	}
	if total == 0 {
		return 0
	}
	return min(int(math.Round(float64(done)/float64(total)*100)), 100)
}

// ResizeModuleProgress sets a new total and clamps completed and viewed into
// the new bound.
func ResizeModuleProgress(p domain.ModuleProgress, newTotal int) domain.ModuleProgress {
	p.Total = max(newTotal, 0)
	return p.Clamp()
}

// AllModulesComplete reports whether the learner has at least one module and
// every one of them is complete.
func AllModulesComplete(progress map[int64]domain.ModuleProgress) bool {
	if len(progress) == 0 {
		return false
	}
	for _, p := range progress {
		if !p.Complete() {
			return false
		}
	}
	return true
}

// AddTime accumulates study minutes. Negative input is ignored.
func AddTime(u domain.User, minutes int) domain.User {
	if minutes <= 0 {
		return u
	}
	out := u.Clone()
	out.TimeSpent += minutes
	return out
}

// Score grades answers against questions: round(correct/len*100). Unanswered
// questions count as wrong; an empty test scores 0.
func Score(questions []domain.TestQuestion, answers []int) int {
	if len(questions) == 0 {
		return 0
	}
	correct := 0
	for i, q := range questions {
		if i < len(answers) && q.Correct(answers[i]) {
			correct++
		}
	}
	return int(math.Round(float64(correct) / float64(len(questions)) * 100))
}

func clampScore(s int) int {
	return max(0, min(s, 100))
}
