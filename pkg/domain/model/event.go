package model

import (
	"path"
	"strings"
	"time"
)

// Event is a normalized push or pull_request event, extracted from a
// webhook delivery or synthesized for a local run.
type Event struct {
	Name       EventName // push or pull_request
	Action     string    // pull_request action (opened, synchronize, ...)
	Repository string    // "owner/name"
	SHA        string    // head commit to check out
	Ref        string    // full ref, e.g. refs/heads/main
	RefName    string    // short ref, e.g. main
	BaseRef    string    // pull_request target branch
	Actor      string    // user who triggered the event
	DeliveryID string    // X-GitHub-Delivery header, when delivered by webhook
	ReceivedAt time.Time
}

// Branch returns the branch the trigger filters apply to: the pushed branch
// for push events, the target branch for pull_request events.
func (e *Event) Branch() string {
	if e.Name == EventPullRequest {
		return e.BaseRef
	}
	if e.RefName != "" {
		return e.RefName
	}
	return strings.TrimPrefix(e.Ref, "refs/heads/")
}

// Owner splits the repository into its owner part.
func (e *Event) Owner() string {
	owner, _, _ := strings.Cut(e.Repository, "/")
	return owner
}

// Repo splits the repository into its name part.
func (e *Event) Repo() string {
	_, repo, _ := strings.Cut(e.Repository, "/")
	return repo
}

// Matches reports whether the event would trigger a workflow with these
// triggers: the event kind must be enabled and the branch must pass the
// rule's glob filters. Empty filters admit every branch.
func (t *Triggers) Matches(ev *Event) bool {
	rule, ok := t.Rules[ev.Name]
	if !ok {
		return false
	}

	branch := ev.Branch()

	for _, pattern := range rule.BranchesIgnore {
		if branchGlobMatch(pattern, branch) {
			return false
		}
	}

	if len(rule.Branches) == 0 {
		return true
	}
	for _, pattern := range rule.Branches {
		if branchGlobMatch(pattern, branch) {
			return true
		}
	}
	return false
}

// branchGlobMatch matches branch names against trigger patterns. `*`
// matches within a slash-separated segment, `**` matches any number of
// segments (including zero).
func branchGlobMatch(pattern, branch string) bool {
	return segmentsMatch(strings.Split(pattern, "/"), strings.Split(branch, "/"))
}

func segmentsMatch(pp, ss []string) bool {
	if len(pp) == 0 {
		return len(ss) == 0
	}

	if pp[0] == "**" {
		if segmentsMatch(pp[1:], ss) {
			return true
		}
		if len(ss) > 0 && segmentsMatch(pp, ss[1:]) {
			return true
		}
		return false
	}

	if len(ss) == 0 {
		return false
	}

	ok, err := path.Match(pp[0], ss[0])
	if err != nil || !ok {
		return false
	}
	return segmentsMatch(pp[1:], ss[1:])
}
