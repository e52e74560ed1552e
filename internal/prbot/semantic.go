package prbot

import (
	"regexp"
	"strconv"
	"strings"
)

// Category represents the type of changes in a PR
type Category string

const (
	CategorySecurity     Category = "security"
	CategoryArchitecture Category = "architecture"
	CategoryMigrations   Category = "migrations"
	CategoryRoutine      Category = "routine"
)

// HumanReviewLabel marks PRs the merger refuses to merge on its own
const HumanReviewLabel = "needs-human-review"

var (
	securityPatterns = compileAll(
		`(?i)\bauth(n|z|entication|orization)?\b`,
		`(?i)password`,
		`(?i)credential`,
		`(?i)secret`,
		`(?i)\b(access|api|bearer|refresh)[_ ]?token`,
		`(?i)encrypt`,
		`(?i)decrypt`,
		`(?i)permission`,
		`(?i)bcrypt`,
		`(?i)\bjwt\b`,
		`(?i)oauth`,
	)

	architecturePatterns = compileAll(
		`(?m)^diff --git a/(go\.mod|go\.sum|package\.json|requirements\.txt|pyproject\.toml) `,
		`(?m)^diff --git a/\S*api/`,
		`(?m)^\+.*\binterface\s+\w+`,
		`(?m)^\+.*\bpublic\s+(func|type|class|interface)\b`,
	)

	migrationPatterns = compileAll(
		`migrations/`,
		`(?i)CREATE\s+TABLE`,
		`(?i)ALTER\s+TABLE`,
		`(?i)DROP\s+TABLE`,
		`(?m)^diff --git a/\S+\.sql `,
	)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		res[i] = regexp.MustCompile(p)
	}
	return res
}

// AnalyzeDiff categorizes a diff by its content
func AnalyzeDiff(diff string) Category {
	// Check in order of priority
	if matchesAny(diff, securityPatterns) {
		return CategorySecurity
	}
	if matchesAny(diff, migrationPatterns) {
		return CategoryMigrations
	}
	if matchesAny(diff, architecturePatterns) {
		return CategoryArchitecture
	}
	return CategoryRoutine
}

func matchesAny(text string, patterns []*regexp.Regexp) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// ShouldAutoMerge returns true if the PR should be auto-merged
func ShouldAutoMerge(category Category, needsReview bool) bool {
	if needsReview {
		return false
	}
	return category == CategoryRoutine
}

// ReviewLabels returns the PR labels that flag a category for humans
func ReviewLabels(category Category) []string {
	switch category {
	case CategorySecurity:
		return []string{HumanReviewLabel, "security"}
	case CategoryArchitecture:
		return []string{HumanReviewLabel, "architecture"}
	case CategoryMigrations:
		return []string{HumanReviewLabel, "database"}
	default:
		return []string{HumanReviewLabel}
	}
}

// ChangedFiles lists the files touched by a unified diff
func ChangedFiles(diff string) []string {
	var files []string
	for _, line := range strings.Split(diff, "\n") {
		if !strings.HasPrefix(line, "diff --git") {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) >= 4 {
			files = append(files, strings.TrimPrefix(parts[3], "b/"))
		}
	}
	return files
}

// ExtractChangeSummary attempts to summarize changes from diff
func ExtractChangeSummary(diff string) string {
	files := ChangedFiles(diff)
	switch {
	case len(files) == 0:
		return "Changes made"
	case len(files) <= 3:
		return "Modified " + strings.Join(files, ", ")
	default:
		return "Modified " + strings.Join(files[:3], ", ") + " and " + pluralFiles(len(files)-3)
	}
}

func pluralFiles(n int) string {
	if n == 1 {
		return "1 more file"
	}
	return strconv.Itoa(n) + " more files"
}
