package core

import (
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pmezard/go-difflib/difflib"
)

// NowFunc is swapped in tests to pin the clock.
var NowFunc = func() time.Time { return time.Now().UTC() }

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Round2 rounds to 2 decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Getwd walks up from the working directory to the module root (the dir holding go.mod).
// go-test runs from the package dir, so a plain os.Getwd breaks config/.env lookups.
// Falls back to the working directory when no go.mod is found (e.g. a deployed binary).
func Getwd() string {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal(err)
	}
	currDir := wd
	for {
		if fi, err := os.Stat(filepath.Join(currDir, "go.mod")); err == nil && !fi.IsDir() {
			return currDir
		}
		newDir := filepath.Dir(currDir)
		if newDir == currDir {
			return wd
		}
		currDir = newDir
	}
}

// OneOf formats the "must be one of" hint for an invalid choice, suggesting the closest allowed value.
func OneOf(got string, allowed []string) string {
	hint := "must be one of: " + strings.Join(allowed, ", ")
	if got == "" {
		return hint
	}
	best, bestRatio := "", 0.6
	for _, a := range allowed {
		ratio := difflib.NewMatcher(strings.Split(got, ""), strings.Split(a, "")).Ratio()
		if ratio >= bestRatio {
			best, bestRatio = a, ratio
		}
	}
	if best != "" {
		hint += " (did you mean " + best + "?)"
	}
	return hint
}
