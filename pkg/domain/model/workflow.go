package model

import (
	"os"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Workflow is a parsed workflow definition file.
//
// The dialect is a subset of the GitHub Actions workflow schema: `name`,
// `on` (push / pull_request with branch filters), workflow-level `env`,
// and a map of jobs with matrix strategies and ordered steps.
type Workflow struct {
	Name string            `yaml:"name"`
	On   Triggers          `yaml:"on"`
	Env  map[string]string `yaml:"env"`
	Jobs map[string]*Job   `yaml:"jobs"`

	// Path records where the workflow was loaded from, when known.
	Path string `yaml:"-"`
}

// Job is one entry of the `jobs` map.
type Job struct {
	Name            string            `yaml:"name"`
	RunsOn          string            `yaml:"runs-on"`
	Strategy        *Strategy         `yaml:"strategy"`
	Env             map[string]string `yaml:"env"`
	TimeoutMinutes  int               `yaml:"timeout-minutes"`
	ContinueOnError bool              `yaml:"continue-on-error"`
	Steps           []*Step           `yaml:"steps"`
	Coverage        *Coverage         `yaml:"coverage"`
}

// Step is a single instruction inside a job. Exactly one of Run or Uses
// must be set; ParseWorkflow accepts either shape and validation enforces
// the exclusivity.
type Step struct {
	Name             string            `yaml:"name"`
	Run              string            `yaml:"run"`
	Uses             string            `yaml:"uses"`
	Shell            string            `yaml:"shell"`
	Env              map[string]string `yaml:"env"`
	WorkingDirectory string            `yaml:"working-directory"`
	ContinueOnError  bool              `yaml:"continue-on-error"`
	TimeoutMinutes   int               `yaml:"timeout-minutes"`
}

// DisplayName returns the step name, falling back to the command or action
// reference when the author did not name the step.
func (s *Step) DisplayName() string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Uses != "":
		return s.Uses
	default:
		return s.Run
	}
}

// Coverage declares test-coverage report files produced by a job. When a
// coverage uploader is configured, the files are transmitted after the job's
// steps succeed, authenticated with the configured secret token.
type Coverage struct {
	Files    []string `yaml:"files"`
	Flags    []string `yaml:"flags"`
	Optional bool     `yaml:"optional"`
}

// UsesCheckout is the only supported `uses:` reference. It fetches the
// triggering commit into the job workspace.
const UsesCheckout = "checkout"

// EventName identifies the kind of event that can trigger a workflow.
type EventName string

const (
	EventPush        EventName = "push"
	EventPullRequest EventName = "pull_request"
)

// Triggers is the normalized form of the `on:` key.
//
// The YAML shape is flexible: a single scalar (`on: push`), a sequence
// (`on: [push, pull_request]`), or a mapping with per-event rules. All
// three decode into the Rules map; scalar and sequence entries get an
// empty rule (any branch).
type Triggers struct {
	Rules map[EventName]*TriggerRule
}

// TriggerRule holds branch filters for one event kind. Patterns are globs
// where `*` matches within a path segment and `**` matches across segments.
type TriggerRule struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
}

// UnmarshalYAML implements the flexible `on:` decoding.
func (t *Triggers) UnmarshalYAML(node *yaml.Node) error {
	t.Rules = make(map[EventName]*TriggerRule)

	switch node.Kind {
	case yaml.ScalarNode:
		var name string
		if err := node.Decode(&name); err != nil {
			return goerr.Wrap(err, "failed to decode trigger name")
		}
		t.Rules[EventName(name)] = &TriggerRule{}

	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return goerr.Wrap(err, "failed to decode trigger list")
		}
		for _, name := range names {
			t.Rules[EventName(name)] = &TriggerRule{}
		}

	case yaml.MappingNode:
		var rules map[string]*TriggerRule
		if err := node.Decode(&rules); err != nil {
			return goerr.Wrap(err, "failed to decode trigger rules")
		}
		for name, rule := range rules {
			if rule == nil {
				rule = &TriggerRule{}
			}
			t.Rules[EventName(name)] = rule
		}

	default:
		return goerr.New("unsupported YAML shape for `on:`",
			goerr.V("line", node.Line))
	}

	return nil
}

// Enabled reports whether the event kind appears in `on:` at all.
func (t *Triggers) Enabled(name EventName) bool {
	_, ok := t.Rules[name]
	return ok
}

// ParseWorkflow parses workflow YAML content.
func ParseWorkflow(data []byte) (*Workflow, error) {
	var w Workflow
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, goerr.Wrap(err, "failed to parse workflow YAML")
	}
	return &w, nil
}

// LoadWorkflow reads and parses a workflow file.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read workflow file",
			goerr.V("path", path))
	}

	w, err := ParseWorkflow(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse workflow file",
			goerr.V("path", path))
	}
	w.Path = path

	return w, nil
}
