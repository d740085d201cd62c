package progress

import (
	"math"
	"sort"
	"strings"

	"github.com/sqb-ai/istudy/internal/domain"
)

// NoDepartment labels users whose department is blank.
const NoDepartment = "Без отдела"

// Stats is the admin dashboard summary.
type Stats struct {
	TotalUsers       int
	AverageProgress  int
	TotalTests       int
	TotalTimeSpent   int // minutes
	ActiveUsers      int // started at least one module
	CompletedModules int // summed over users
	AverageTestScore int
	Modules          []ModuleStats
	Departments      []DepartmentStats
}

// ModuleStats summarizes one module across the roster.
type ModuleStats struct {
	ModuleID       int64
	Title          string
	UsersStarted   int
	UsersCompleted int
	CompletionRate int // completed per started, percent
}

// DepartmentStats summarizes one department.
type DepartmentStats struct {
	Name            string
	Users           int
	AverageProgress int
}

// Summarize computes the dashboard figures for users over the live modules.
func Summarize(users []domain.User, modules []domain.Module) Stats {
	s := Stats{TotalUsers: len(users)}

	var progressSum, scoreSum, scoreCount int
	type deptAcc struct{ count, progress int }
	depts := map[string]*deptAcc{}

	for _, u := range users {
		overall := OverallProgress(u.Progress)
		progressSum += overall
		s.TotalTests += len(u.TestResults)
		s.TotalTimeSpent += u.TimeSpent

		active := false
		for _, p := range u.Progress {
			if p.Started {
				active = true
			}
			if p.Complete() {
				s.CompletedModules++
			}
		}
		if active {
			s.ActiveUsers++
		}

		for _, r := range u.TestResults {
			scoreSum += r.Score
			scoreCount++
		}

		name := strings.TrimSpace(u.Department)
		if name == "" {
			name = NoDepartment
		}
		acc, ok := depts[name]
		if !ok {
			acc = &deptAcc{}
			depts[name] = acc
		}
		acc.count++
		acc.progress += overall
	}

	s.AverageProgress = average(progressSum, len(users))
	s.AverageTestScore = average(scoreSum, scoreCount)

	for _, m := range modules {
		ms := ModuleStats{ModuleID: m.ID, Title: m.Title}
		for _, u := range users {
			p, ok := u.Progress[m.ID]
			if !ok {
				continue
			}
			if p.Started {
				ms.UsersStarted++
			}
			if p.Complete() {
				ms.UsersCompleted++
			}
		}
		ms.CompletionRate = average(ms.UsersCompleted*100, ms.UsersStarted)
		s.Modules = append(s.Modules, ms)
	}

	for name, acc := range depts {
		s.Departments = append(s.Departments, DepartmentStats{
			Name:            name,
			Users:           acc.count,
			AverageProgress: average(acc.progress, acc.count),
		})
	}
	sort.Slice(s.Departments, func(i, j int) bool {
		if s.Departments[i].Users != s.Departments[j].Users {
			return s.Departments[i].Users > s.Departments[j].Users
		}
		return s.Departments[i].Name < s.Departments[j].Name
	})

	return s
}

func average(sum, n int) int {
	if n == 0 {
		return 0
	}
	return int(math.Round(float64(sum) / float64(n)))
}
