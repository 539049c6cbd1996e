package record

// Category is the WHO/ESC blood-pressure classification.
type Category string

const (
	Optimal            Category = "optimal"
	Normal             Category = "normal"
	HighNormal         Category = "high_normal"
	Grade1Hypertension Category = "grade1_hypertension"
	Grade2Hypertension Category = "grade2_hypertension"
	Grade3Hypertension Category = "grade3_hypertension"
)

// tiers are ordered lowest first; a tier applies while both readings stay
// below its upper bounds.
var tiers = []struct {
	category     Category
	systolicMax  int
	diastolicMax int
}{
	{Optimal, 120, 80},
	{Normal, 130, 85},
	{HighNormal, 140, 90},
	{Grade1Hypertension, 160, 100},
	{Grade2Hypertension, 180, 110},
}

// Classify assigns the highest tier triggered by either reading on its own.
// 125/95 is grade1_hypertension: systolic alone is normal but diastolic 95
// is past the high_normal bound.
func Classify(systolic, diastolic int) Category {
	for _, t := range tiers {
		if systolic < t.systolicMax && diastolic < t.diastolicMax {
			return t.category
		}
	}
	return Grade3Hypertension
}

// Rank orders categories from 0 (optimal) to 5 (grade 3). Unknown values rank -1.
func (c Category) Rank() int {
	for i, t := range tiers {
		if t.category == c {
			return i
		}
	}
	if c == Grade3Hypertension {
		return len(tiers)
	}
	return -1
}

// Categories lists every category in ascending severity.
func Categories() []Category {
	out := make([]Category, 0, len(tiers)+1)
	for _, t := range tiers {
		out = append(out, t.category)
	}
	return append(out, Grade3Hypertension)
}
