package domain

import (
	"strings"

	"golang.org/x/text/cases"
)

var fold = cases.Fold()

// NormalizeEmail trims and case-folds an address. Two emails identify the same
// user exactly when their normalized forms are equal.
func NormalizeEmail(email string) string {
	return fold.String(strings.TrimSpace(email))
}

// SameEmail compares two addresses under NormalizeEmail.
func SameEmail(a, b string) bool {
	return NormalizeEmail(a) == NormalizeEmail(b)
}

// LocalPart returns the part of the address before '@'.
func LocalPart(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}
