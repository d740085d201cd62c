package domain

// ModuleProgress tracks one user's counters for one module.
// Intended invariant: 0 <= Completed <= Viewed <= Total.
type ModuleProgress struct {
	Started   bool `json:"started"`
	Viewed    int  `json:"viewed"`
	Completed int  `json:"completed"`
	Total     int  `json:"total"`
}

// NewModuleProgress seeds an untouched entry sized from the live module.
func NewModuleProgress(m Module) ModuleProgress {
	return ModuleProgress{Total: len(m.Lessons)}
}

// Complete reports whether every unit of the module is finished. A module
// whose lessons were all removed counts as complete.
func (p ModuleProgress) Complete() bool {
	return p.Completed >= p.Total
}

// Percent is the per-module completion rounded to an integer.
func (p ModuleProgress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return roundPercent(p.Completed, p.Total)
}

// Clamp forces the counters back into [0, Total].
func (p ModuleProgress) Clamp() ModuleProgress {
	if p.Total < 0 {
		p.Total = 0
	}
	p.Viewed = clamp(p.Viewed, 0, p.Total)
	p.Completed = clamp(p.Completed, 0, p.Total)
	return p
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// roundPercent returns round(part/whole*100) with halves rounded up.
func roundPercent(part, whole int) int {
	return (part*200 + whole) / (2 * whole)
}
