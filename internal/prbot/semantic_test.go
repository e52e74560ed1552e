package prbot

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAnalyzeDiff(t *testing.T) {
	tests := []struct {
		name string
		diff string
		want Category
	}{
		{
			name: "security",
			diff: `
diff --git a/auth/login.go b/auth/login.go
+func validatePassword(password string) bool {
+    return bcrypt.CompareHashAndPassword(hash, []byte(password))
+}
`,
			want: CategorySecurity,
		},
		{
			name: "architecture",
			diff: `
diff --git a/go.mod b/go.mod
+require github.com/newdep/pkg v1.0.0
`,
			want: CategoryArchitecture,
		},
		{
			name: "migrations",
			diff: `
diff --git a/migrations/001_create_users.sql b/migrations/001_create_users.sql
+CREATE TABLE users (
+    id SERIAL PRIMARY KEY
+);
`,
			want: CategoryMigrations,
		},
		{
			name: "routine",
			diff: `
diff --git a/utils/format.go b/utils/format.go
+func FormatDate(t time.Time) string {
+    return t.Format("2006-01-02")
+}
`,
			want: CategoryRoutine,
		},
		{
			name: "author is not auth",
			diff: `
diff --git a/README.md b/README.md
+Written by the original author.
`,
			want: CategoryRoutine,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AnalyzeDiff(tt.diff); got != tt.want {
				t.Errorf("Category = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestShouldAutoMerge(t *testing.T) {
	tests := []struct {
		category    Category
		needsReview bool
		want        bool
	}{
		{CategoryRoutine, false, true},
		{CategoryRoutine, true, false},
		{CategorySecurity, false, false},
		{CategoryArchitecture, false, false},
		{CategoryMigrations, false, false},
	}

	for _, tt := range tests {
		got := ShouldAutoMerge(tt.category, tt.needsReview)
		if got != tt.want {
			t.Errorf("ShouldAutoMerge(%s, %v) = %v, want %v",
				tt.category, tt.needsReview, got, tt.want)
		}
	}
}

func TestReviewLabels(t *testing.T) {
	if diff := cmp.Diff([]string{HumanReviewLabel, "database"}, ReviewLabels(CategoryMigrations)); diff != "" {
		t.Errorf("ReviewLabels(migrations) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{HumanReviewLabel}, ReviewLabels(CategoryRoutine)); diff != "" {
		t.Errorf("ReviewLabels(routine) mismatch (-want +got):\n%s", diff)
	}
}

func TestExtractChangeSummary(t *testing.T) {
	tests := []struct {
		diff string
		want string
	}{
		{"", "Changes made"},
		{"diff --git a/x.go b/x.go\n+a", "Modified x.go"},
		{"diff --git a/a b/a\ndiff --git a/b b/b\ndiff --git a/c b/c\ndiff --git a/d b/d\n", "Modified a, b, c and 1 more file"},
		{"diff --git a/a b/a\ndiff --git a/b b/b\ndiff --git a/c b/c\ndiff --git a/d b/d\ndiff --git a/e b/e\n", "Modified a, b, c and 2 more files"},
	}
	for _, tt := range tests {
		if got := ExtractChangeSummary(tt.diff); got != tt.want {
			t.Errorf("ExtractChangeSummary() = %q, want %q", got, tt.want)
		}
	}
}
