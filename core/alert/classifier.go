package alert

import (
	"math"
	"strconv"
)

var letterGrades = []struct {
	min   float64
	grade string
}{
	{85, "A+"}, {70, "A"}, {65, "A-"}, {60, "B+"}, {55, "B"}, {50, "B-"},
	{45, "C+"}, {40, "C"}, {35, "C-"}, {30, "D+"}, {25, "D"},
}

// Normalize makes every percentage classifiable: NaN becomes 0 and values are clamped to [0, 100].
func Normalize(p float64) float64 {
	switch {
	case math.IsNaN(p), p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// LetterGrade maps a percentage to its letter grade (inclusive lower bounds).
func LetterGrade(p float64) string {
	p = Normalize(p)
	for _, lg := range letterGrades {
		if p >= lg.min {
			return lg.grade
		}
	}
	return "E"
}

// FormatPercent renders p without trailing zeros (30 -> "30", 64.5 -> "64.5").
func FormatPercent(p float64) string {
	return strconv.FormatFloat(math.Round(Normalize(p)*100)/100, 'f', -1, 64)
}

type Classification struct {
	Percentage  float64  `json:"percentage"`
	LetterGrade string   `json:"letter_grade"`
	Type        Type     `json:"alert_type"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Message     string   `json:"message"`
	band        Band
}

// Classify runs p through the stock prediction table.
func Classify(p float64) Classification {
	return classifyPrediction(DefaultThresholds().Prediction, p)
}

func classifyPrediction(t Table, p float64) Classification {
	p = Normalize(p)
	band, _ := t.Classify(p)
	return Classification{
		Percentage:  p,
		LetterGrade: LetterGrade(p),
		Type:        band.Type,
		Severity:    band.Severity,
		band:        band,
	}
}

// Describe renders the student-facing title and message for course.
func (c Classification) Describe(course string) (Classification, error) {
	title, msg, err := c.band.render(MessageData{
		Course:  course,
		Percent: FormatPercent(c.Percentage),
		Grade:   c.LetterGrade,
	})
	if err != nil {
		return c, err
	}
	c.Title, c.Message = title, msg
	return c, nil
}
