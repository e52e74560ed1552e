package github

import "testing"

func TestScopesToRepo(t *testing.T) {
	tests := []struct {
		args []string
		want bool
	}{
		{[]string{"issue", "list"}, true},
		{[]string{"pr", "merge", "3"}, true},
		{[]string{"api", "repos/o/r/issues"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := scopesToRepo(tt.args); got != tt.want {
			t.Errorf("scopesToRepo(%v) = %v, want %v", tt.args, got, tt.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		stderr string
		want   bool
	}{
		{"GraphQL: Could not resolve to an Issue with the number of 404.", true},
		{"HTTP 404: Not Found", true},
		{"HTTP 502: Bad Gateway", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isNotFound(tt.stderr); got != tt.want {
			t.Errorf("isNotFound(%q) = %v, want %v", tt.stderr, got, tt.want)
		}
	}
}
