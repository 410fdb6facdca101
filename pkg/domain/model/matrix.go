package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"
)

// Strategy controls how a job's matrix cells are executed.
type Strategy struct {
	Matrix      *Matrix `yaml:"matrix"`
	FailFast    *bool   `yaml:"fail-fast"`
	MaxParallel int     `yaml:"max-parallel"`
}

// IsFailFast reports the fail-fast setting, defaulting to true.
func (s *Strategy) IsFailFast() bool {
	if s == nil || s.FailFast == nil {
		return true
	}
	return *s.FailFast
}

// Parallelism returns the concurrency bound for the given cell count.
func (s *Strategy) Parallelism(cells int) int {
	if s == nil || s.MaxParallel <= 0 || s.MaxParallel > cells {
		return cells
	}
	return s.MaxParallel
}

// MatrixValue is a scalar matrix entry. The raw YAML text is preserved so
// that `"3.10"` and an unquoted `3.10` keep their source spelling; the tag
// lets validation warn about float-typed values whose trailing zero a YAML
// reader would drop on a round trip.
type MatrixValue struct {
	Raw string
	Tag string
}

// UnmarshalYAML captures the scalar's source text and resolved tag.
func (v *MatrixValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return goerr.New("matrix values must be scalars",
			goerr.V("line", node.Line))
	}
	v.Raw = node.Value
	v.Tag = node.Tag
	return nil
}

func (v MatrixValue) String() string { return v.Raw }

// MarshalJSON serializes the value as its plain string form; the YAML tag
// is a parse-time detail that run records do not need.
func (v MatrixValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Raw)
}

// UnmarshalJSON restores a value stored by MarshalJSON.
func (v *MatrixValue) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &v.Raw)
}

// IsFloat reports whether YAML resolved the value as a float. Version-like
// values ("3.10") should be quoted to stay strings.
func (v MatrixValue) IsFloat() bool { return v.Tag == "!!float" }

// MatrixCell is one expanded combination of matrix values.
type MatrixCell map[string]MatrixValue

// Get returns the string form of a cell value, or "" when absent.
func (c MatrixCell) Get(key string) string {
	if v, ok := c[key]; ok {
		return v.Raw
	}
	return ""
}

// Label renders the cell values in sorted-key order, the way run views
// display a matrix job: "ubuntu-22.04, 3.10".
func (c MatrixCell) Label() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vals := make([]string, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, c[k].Raw)
	}
	return strings.Join(vals, ", ")
}

func (c MatrixCell) clone() MatrixCell {
	dup := make(MatrixCell, len(c))
	for k, v := range c {
		dup[k] = v
	}
	return dup
}

// Matrix is the `matrix:` block of a strategy: named dimensions plus
// include/exclude adjustment lists.
type Matrix struct {
	Dimensions map[string][]MatrixValue
	Include    []map[string]MatrixValue
	Exclude    []map[string]MatrixValue
}

// UnmarshalYAML decodes the matrix mapping. `include` and `exclude` are
// reserved keys; everything else is a dimension. A dimension may be written
// as a single scalar instead of a one-element list.
func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return goerr.New("matrix must be a mapping", goerr.V("line", node.Line))
	}

	m.Dimensions = make(map[string][]MatrixValue)

	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		val := node.Content[i+1]

		switch key {
		case "include":
			if err := val.Decode(&m.Include); err != nil {
				return goerr.Wrap(err, "failed to decode matrix include")
			}
		case "exclude":
			if err := val.Decode(&m.Exclude); err != nil {
				return goerr.Wrap(err, "failed to decode matrix exclude")
			}
		default:
			var values []MatrixValue
			if val.Kind == yaml.ScalarNode {
				var single MatrixValue
				if err := val.Decode(&single); err != nil {
					return goerr.Wrap(err, "failed to decode matrix value",
						goerr.V("dimension", key))
				}
				values = []MatrixValue{single}
			} else if err := val.Decode(&values); err != nil {
				return goerr.Wrap(err, "failed to decode matrix dimension",
					goerr.V("dimension", key))
			}
			m.Dimensions[key] = values
		}
	}

	return nil
}

// Expand computes the matrix cells in deterministic order: the cartesian
// product iterates dimensions in sorted name order with the last dimension
// varying fastest, exclude entries filter the product, and include entries
// either merge into matching cells or append after the product in
// declaration order.
func (m *Matrix) Expand() ([]MatrixCell, error) {
	if m == nil {
		return []MatrixCell{{}}, nil
	}

	keys := make([]string, 0, len(m.Dimensions))
	for k := range m.Dimensions {
		if len(m.Dimensions[k]) == 0 {
			return nil, goerr.New("matrix dimension has no values",
				goerr.V("dimension", k))
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cells := []MatrixCell{{}}
	for _, key := range keys {
		next := make([]MatrixCell, 0, len(cells)*len(m.Dimensions[key]))
		for _, cell := range cells {
			for _, v := range m.Dimensions[key] {
				c := cell.clone()
				c[key] = v
				next = append(next, c)
			}
		}
		cells = next
	}

	cells = applyExclude(cells, m.Exclude)
	cells = applyInclude(cells, m.Include)

	return cells, nil
}

// Size returns the number of cells the matrix expands to.
func (m *Matrix) Size() (int, error) {
	cells, err := m.Expand()
	if err != nil {
		return 0, err
	}
	return len(cells), nil
}

func applyExclude(cells []MatrixCell, exclude []map[string]MatrixValue) []MatrixCell {
	if len(exclude) == 0 {
		return cells
	}

	kept := cells[:0]
	for _, cell := range cells {
		excluded := false
		for _, entry := range exclude {
			if entryMatches(cell, entry) {
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, cell)
		}
	}
	return kept
}

func applyInclude(cells []MatrixCell, include []map[string]MatrixValue) []MatrixCell {
	for _, entry := range include {
		matched := false
		for _, cell := range cells {
			if entryMatches(cell, entry) {
				matched = true
				for k, v := range entry {
					cell[k] = v
				}
			}
		}
		if !matched {
			extra := make(MatrixCell, len(entry))
			for k, v := range entry {
				extra[k] = v
			}
			cells = append(cells, extra)
		}
	}
	return cells
}

// entryMatches reports whether every entry key that names an existing cell
// key carries an equal value. Keys absent from the cell do not disqualify
// the match; they are the values an include entry adds.
func entryMatches(cell MatrixCell, entry map[string]MatrixValue) bool {
	overlap := false
	for k, v := range entry {
		cv, ok := cell[k]
		if !ok {
			continue
		}
		overlap = true
		if cv.Raw != v.Raw {
			return false
		}
	}
	return overlap
}

// ExpandJob returns the cells a job will run: a job without a strategy (or
// without a matrix) runs exactly once with an empty cell.
func (j *Job) ExpandJob() ([]MatrixCell, error) {
	if j.Strategy == nil || j.Strategy.Matrix == nil {
		return []MatrixCell{{}}, nil
	}
	return j.Strategy.Matrix.Expand()
}

// JobDisplayName renders the run-view name of a job cell:
// "build (ubuntu-22.04, 3.10)" for matrix jobs, the plain name otherwise.
func JobDisplayName(jobID string, job *Job, cell MatrixCell) string {
	name := job.Name
	if name == "" {
		name = jobID
	}
	if len(cell) == 0 {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, cell.Label())
}
