package issues

import (
	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
	"github.com/hochfrequenz/swarm-orchestrator/internal/labels"
)

func newTestSource(r github.Runner) (*Source, *github.Client) {
	gh := github.NewClient(r)
	return NewSource(gh, labels.New("wip", "d", labels.SourceBoth), 0, nil), gh
}
