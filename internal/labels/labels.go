// Package labels turns raw GitHub labels and issue bodies into typed
// work item fields.
package labels

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

// DependencySource selects where dependency ids are read from
type DependencySource string

const (
	SourceLabels DependencySource = "labels"
	SourceBody   DependencySource = "body"
	SourceBoth   DependencySource = "both"
)

// ParseSource validates a configured dependency source. Empty means labels.
func ParseSource(s string) (DependencySource, error) {
	switch DependencySource(strings.ToLower(strings.TrimSpace(s))) {
	case "", SourceLabels:
		return SourceLabels, nil
	case SourceBody:
		return SourceBody, nil
	case SourceBoth:
		return SourceBoth, nil
	default:
		return "", fmt.Errorf("unknown dependency source %q (want labels, body or both)", s)
	}
}

// TypeRule maps a type label to the title keywords that suggest it
type TypeRule struct {
	Label    string
	Keywords []string
}

// DefaultTypeRules is checked in order; the first matching rule wins.
var DefaultTypeRules = []TypeRule{
	{Label: "testing", Keywords: []string{"test", "testing"}},
	{Label: "bug", Keywords: []string{"bug", "fix", "error"}},
	{Label: "feature", Keywords: []string{"feature", "add", "create", "implement", "build", "design"}},
}

var (
	bodyDepRe   = regexp.MustCompile(`(?i)\b(?:depends on|dependency|blocked by)\*{0,2}:?\*{0,2}\s*#(\d+)`)
	closingRe   = regexp.MustCompile(`(?i)\b(?:fixes|closes|resolves)\s+#(\d+)`)
	bareIssueRe = regexp.MustCompile(`#(\d+)`)
)

// Codec holds the label conventions of one repository
type Codec struct {
	WIPLabel         string
	DependencyPrefix string
	Source           DependencySource
	TypeRules        []TypeRule

	depRe *regexp.Regexp
}

// New creates a Codec. Empty values fall back to "wip", "d" and labels.
func New(wipLabel, depPrefix string, source DependencySource) *Codec {
	if wipLabel == "" {
		wipLabel = "wip"
	}
	if depPrefix == "" {
		depPrefix = "d"
	}
	if source == "" {
		source = SourceLabels
	}
	return &Codec{
		WIPLabel:         wipLabel,
		DependencyPrefix: depPrefix,
		Source:           source,
		TypeRules:        DefaultTypeRules,
		depRe:            regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(depPrefix) + `(\d+)$`),
	}
}

// PriorityTags returns every distinct priority tag present, highest rank first
func PriorityTags(labels []string) []domain.PriorityTag {
	var tags []domain.PriorityTag
	for _, l := range labels {
		if tag, ok := domain.ParsePriority(l); ok && !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Rank() < tags[j].Rank() })
	return tags
}

// PriorityLabels returns the raw labels that carry a priority
func PriorityLabels(labels []string) []string {
	var out []string
	for _, l := range labels {
		if _, ok := domain.ParsePriority(l); ok {
			out = append(out, l)
		}
	}
	return out
}

// ResolvePriority reduces the labels to the single highest-ranked tag
func ResolvePriority(labels []string) domain.PriorityTag {
	tags := PriorityTags(labels)
	if len(tags) == 0 {
		return domain.PriorityNone
	}
	return tags[0]
}

// IsWIP reports whether the WIP label is present
func (c *Codec) IsWIP(labels []string) bool {
	for _, l := range labels {
		if strings.EqualFold(strings.TrimSpace(l), c.WIPLabel) {
			return true
		}
	}
	return false
}

// DependencyLabels returns the issue ids named by dependency labels such as d12.
func (c *Codec) DependencyLabels(labels []string) []int {
	var ids []int
	for _, l := range labels {
		if id, ok := c.dependencyLabel(l); ok {
			ids = append(ids, id)
		}
	}
	return normalize(ids)
}

// DependencyLabelNames returns the raw dependency labels keyed by the id they name
func (c *Codec) DependencyLabelNames(labels []string) map[int]string {
	names := make(map[int]string)
	for _, l := range labels {
		if id, ok := c.dependencyLabel(l); ok {
			names[id] = l
		}
	}
	return names
}

func (c *Codec) dependencyLabel(label string) (int, bool) {
	m := c.depRe.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// BodyDependencies returns the ids named by "Depends on #N", "Blocked by #N"
// or "Dependency: #N" lines. The colon is optional and bold markers are allowed.
func BodyDependencies(body string) []int {
	var ids []int
	for _, m := range bodyDepRe.FindAllStringSubmatch(body, -1) {
		if id, err := strconv.Atoi(m[1]); err == nil && id > 0 {
			ids = append(ids, id)
		}
	}
	return normalize(ids)
}

// Dependencies extracts dependency ids according to the codec's source
func (c *Codec) Dependencies(labels []string, body string) []int {
	switch c.Source {
	case SourceBody:
		return BodyDependencies(body)
	case SourceBoth:
		return normalize(append(c.DependencyLabels(labels), BodyDependencies(body)...))
	default:
		return c.DependencyLabels(labels)
	}
}

// ToWorkItem builds a normalized WorkItem from raw tracker data
func (c *Codec) ToWorkItem(number int, title, url string, labels []string, body, state string, createdAt time.Time) domain.WorkItem {
	return domain.WorkItem{
		ID:        number,
		Title:     title,
		URL:       url,
		Priority:  ResolvePriority(labels),
		CreatedAt: createdAt,
		Blocked:   c.IsWIP(labels),
		DependsOn: c.Dependencies(labels, body),
		State:     domain.ParseState(state),
		Labels:    slices.Clone(labels),
	}
}

// TypeLabels returns the type labels already present on an issue
func (c *Codec) TypeLabels(labels []string) []string {
	var out []string
	for _, l := range labels {
		for _, r := range c.TypeRules {
			if strings.EqualFold(l, r.Label) {
				out = append(out, r.Label)
			}
		}
	}
	return out
}

// SuggestType returns the first type label whose keyword appears in the
// title, or "" when the issue already carries a type label or nothing matches.
func (c *Codec) SuggestType(title string, existing []string) string {
	if len(c.TypeLabels(existing)) > 0 {
		return ""
	}
	lower := strings.ToLower(title)
	for _, r := range c.TypeRules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.Label
			}
		}
	}
	return ""
}

// LinkedIssue finds the issue a pull request addresses. Closing keywords
// win over bare references; the title is checked before the body.
func LinkedIssue(title, body string) (int, bool) {
	for _, re := range []*regexp.Regexp{closingRe, bareIssueRe} {
		for _, text := range []string{title, body} {
			if m := re.FindStringSubmatch(text); m != nil {
				if id, err := strconv.Atoi(m[1]); err == nil && id > 0 {
					return id, true
				}
			}
		}
	}
	return 0, false
}

func normalize(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
