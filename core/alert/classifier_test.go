package alert_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/tahadhari/core/alert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		p        float64
		grade    string
		typ      alert.Type
		severity alert.Severity
	}{
		{p: 100, grade: "A+", typ: alert.TypeExcellent, severity: alert.SeverityLow},
		{p: 85, grade: "A+", typ: alert.TypeExcellent, severity: alert.SeverityLow},
		{p: 84.99, grade: "A", typ: alert.TypePerformance, severity: alert.SeverityLow},
		{p: 65, grade: "A-", typ: alert.TypePerformance, severity: alert.SeverityLow},
		{p: 64.99, grade: "B+", typ: alert.TypeImprovement, severity: alert.SeverityMedium},
		{p: 55, grade: "B", typ: alert.TypeWarning, severity: alert.SeverityMedium},
		{p: 50, grade: "B-", typ: alert.TypeWarning, severity: alert.SeverityHigh},
		{p: 40, grade: "C", typ: alert.TypeWarning, severity: alert.SeverityHigh},
		{p: 39.99, grade: "C-", typ: alert.TypeWarning, severity: alert.SeverityCritical},
		{p: 24.99, grade: "E", typ: alert.TypeWarning, severity: alert.SeverityCritical},
		{p: 0, grade: "E", typ: alert.TypeWarning, severity: alert.SeverityCritical},
		{p: -3, grade: "E", typ: alert.TypeWarning, severity: alert.SeverityCritical},
		{p: math.NaN(), grade: "E", typ: alert.TypeWarning, severity: alert.SeverityCritical},
		{p: 140, grade: "A+", typ: alert.TypeExcellent, severity: alert.SeverityLow},
	}
	for _, tt := range tests {
		c := alert.Classify(tt.p)
		assert.Equal(t, tt.grade, c.LetterGrade, "LetterGrade(%v)", tt.p)
		assert.Equal(t, tt.typ, c.Type, "Type(%v)", tt.p)
		assert.Equal(t, tt.severity, c.Severity, "Severity(%v)", tt.p)
	}
}

func TestClassify_monotonic(t *testing.T) {
	prev := alert.Classify(0).Severity
	for p := 0.0; p <= 100; p += 0.25 {
		sev := alert.Classify(p).Severity
		if sev.Rank() > prev.Rank() {
			t.Fatalf("severity rose from %s to %s at %v%%", prev, sev, p)
		}
		prev = sev
	}
}

func TestClassification_Describe(t *testing.T) {
	c, err := alert.Classify(45).Describe("Algorithms")
	assert.NoError(t, err)
	assert.Equal(t, "At Risk - Action Needed", c.Title)
	assert.Contains(t, c.Message, "predicted to achieve a C+ grade (45%)")
	assert.Contains(t, c.Message, "Algorithms")

	c, err = alert.Classify(72.5).Describe("Databases")
	assert.NoError(t, err)
	assert.Contains(t, c.Message, "an A grade (72.5%)")
}

func TestFormatPercent(t *testing.T) {
	tests := map[float64]string{30: "30", 64.5: "64.5", 33.333: "33.33", -1: "0", 101: "100"}
	for p, want := range tests {
		assert.Equal(t, want, alert.FormatPercent(p), "FormatPercent(%v)", p)
	}
}

func TestSeverity(t *testing.T) {
	assert.True(t, alert.SeverityCritical.AtLeast(alert.SeverityHigh))
	assert.False(t, alert.SeverityMedium.IsUrgent())
	assert.True(t, alert.SeverityHigh.IsUrgent())
	assert.False(t, alert.Severity("urgent").Valid())

	var s alert.Severity
	assert.NoError(t, s.UnmarshalText([]byte(" HIGH ")))
	assert.Equal(t, alert.SeverityHigh, s)
	assert.Error(t, s.UnmarshalText([]byte("urgent")))
}
