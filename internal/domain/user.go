// Package domain holds the learning platform entities and the invariants
// enforced when they are created.
package domain

import (
	"maps"
	"strings"
	"time"
)

// DateLayout is the format of User.LastActivity and TestResult.Date.
const DateLayout = "2006-01-02"

// TimeLayout is the format of TestResult.Time.
const TimeLayout = "15:04"

// DefaultDepartment is assigned to learners created on first login.
const DefaultDepartment = "Общий"

// User is one roster entry.
type User struct {
	ID           int64                    `json:"id"`
	Name         string                   `json:"name"`
	Email        string                   `json:"email"`
	PasswordHash string                   `json:"passwordHash,omitempty"`
	Department   string                   `json:"department"`
	Progress     map[int64]ModuleProgress `json:"progress"`
	TestResults  []TestResult             `json:"testResults"`
	TimeSpent    int                      `json:"timeSpent"` // minutes
	LastActivity string                   `json:"lastActivity"`
}

// TestResult is the outcome of a module's final test. At most one is kept per
// module.
type TestResult struct {
	ModuleID    int64  `json:"moduleId"`
	LessonTitle string `json:"lessonTitle"`
	Score       int    `json:"score"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

// Clone deep-copies the user so the copy can be mutated freely.
func (u User) Clone() User {
	u.Progress = maps.Clone(u.Progress)
	if u.Progress == nil {
		u.Progress = map[int64]ModuleProgress{}
	}
	u.TestResults = append([]TestResult{}, u.TestResults...)
	return u
}

// HasPassword reports whether the user can log in with a password.
func (u User) HasPassword() bool {
	return u.PasswordHash != ""
}

// DisplayName is the name, or the email's local part when the name is blank.
func (u User) DisplayName() string {
	if strings.TrimSpace(u.Name) != "" {
		return u.Name
	}
	return LocalPart(u.Email)
}

// Touch stamps LastActivity with now's date.
func (u *User) Touch(now time.Time) {
	u.LastActivity = now.Format(DateLayout)
}

// SeedProgress returns a fresh entry for every module.
func SeedProgress(modules []Module) map[int64]ModuleProgress {
	out := make(map[int64]ModuleProgress, len(modules))
	for _, m := range modules {
		out[m.ID] = NewModuleProgress(m)
	}
	return out
}

// NewUserInput is the admin "add user" form.
type NewUserInput struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Department string `json:"department" validate:"required"`
	Password   string `json:"password" validate:"required,min=6"`
}

// NewUser validates the form, hashes the password and seeds progress for
// every live module.
func NewUser(in NewUserInput, modules []Module, now time.Time) (User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Department = strings.TrimSpace(in.Department)

	if err := check(in); err != nil {
		return User{}, err
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, err
	}

	u := User{
		ID:           now.UnixMilli(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Department:   in.Department,
		Progress:     SeedProgress(modules),
		TestResults:  []TestResult{},
	}
	u.Touch(now)
	return u, nil
}

// NewLearner builds the record created when a learner signs in without a
// roster entry. It carries no password.
func NewLearner(name, email string, modules []Module, now time.Time) User {
	u := User{
		ID:          now.UnixMilli(),
		Name:        strings.TrimSpace(name),
		Email:       strings.TrimSpace(email),
		Department:  DefaultDepartment,
		Progress:    SeedProgress(modules),
		TestResults: []TestResult{},
	}
	u.Touch(now)
	return u
}

// ProfileEdit is the admin "edit user" form. An empty Password keeps the
// current one.
type ProfileEdit struct {
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Department string `json:"department" validate:"required"`
	Password   string `json:"password" validate:"omitempty,min=6"`
}

// ApplyProfileEdit validates e and returns u with the edit applied.
func ApplyProfileEdit(u User, e ProfileEdit) (User, error) {
	e.Name = strings.TrimSpace(e.Name)
	e.Email = strings.TrimSpace(e.Email)
	e.Department = strings.TrimSpace(e.Department)

	if err := check(e); err != nil {
		return User{}, err
	}

	out := u.Clone()
	out.Name = e.Name
	out.Email = e.Email
	out.Department = e.Department
	if e.Password != "" {
		hash, err := HashPassword(e.Password)
		if err != nil {
			return User{}, err
		}
		out.PasswordHash = hash
	}
	return out, nil
}
