package workflow

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"swift/job-engine/pkg/types"
)

// Definition is a workflow described in YAML.
type Definition struct {
	Name     string           `yaml:"name"`
	Priority int              `yaml:"priority,omitempty"`
	Tasks    []TaskDefinition `yaml:"tasks"`
}

// TaskDefinition describes one task and the request it submits.
type TaskDefinition struct {
	Name      string         `yaml:"name"`
	Service   string         `yaml:"service"`
	Type      string         `yaml:"type,omitempty"`
	Priority  int            `yaml:"priority,omitempty"`
	Cacheable bool           `yaml:"cacheable,omitempty"`
	Payload   map[string]any `yaml:"payload,omitempty"`
	Inputs    []string       `yaml:"inputs,omitempty"`
	DependsOn []string       `yaml:"depends_on,omitempty"`
}

// DefinitionError lists every problem found in a definition.
type DefinitionError struct {
	Problems []string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid workflow definition:\n  - %s", strings.Join(e.Problems, "\n  - "))
}

// ParseDefinition decodes and validates a YAML definition. Unknown fields are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&def); err != nil {
		return nil, types.NewConfigError("parse workflow definition", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadDefinition reads and parses the definition in path.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewConfigError(fmt.Sprintf("read workflow definition %s", path), err)
	}
	return ParseDefinition(data)
}

// Validate checks that task names are unique and non-empty, that every task
// names a service, and that dependencies exist and form no cycle.
func (d *Definition) Validate() error {
	var problems []string
	if d.Name == "" {
		problems = append(problems, "name is required")
	}
	if len(d.Tasks) == 0 {
		problems = append(problems, "at least one task is required")
	}

	names := make(map[string]bool, len(d.Tasks))
	for i, t := range d.Tasks {
		switch {
		case t.Name == "":
			problems = append(problems, fmt.Sprintf("tasks[%d]: name is required", i))
		case names[t.Name]:
			problems = append(problems, fmt.Sprintf("tasks[%d]: duplicate task name %q", i, t.Name))
		default:
			names[t.Name] = true
		}
		if t.Service == "" {
			problems = append(problems, fmt.Sprintf("tasks[%d]: service is required", i))
		}
	}
	for i, t := range d.Tasks {
		for _, dep := range t.DependsOn {
			if dep == t.Name {
				problems = append(problems, fmt.Sprintf("tasks[%d]: task %q depends on itself", i, t.Name))
			} else if !names[dep] {
				problems = append(problems, fmt.Sprintf("tasks[%d]: unknown dependency %q", i, dep))
			}
		}
	}
	if len(problems) == 0 {
		if cycle := d.findCycle(); cycle != nil {
			problems = append(problems, "dependency cycle: "+strings.Join(cycle, " -> "))
		}
	}

	if len(problems) > 0 {
		return types.NewConfigError("validate workflow definition", &DefinitionError{Problems: problems})
	}
	return nil
}

// findCycle returns the task names along one dependency cycle, or nil.
func (d *Definition) findCycle() []string {
	deps := make(map[string][]string, len(d.Tasks))
	names := make([]string, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		deps[t.Name] = t.DependsOn
		names = append(names, t.Name)
	}
	sort.Strings(names)

	const (
		unvisited = iota
		visiting
		visited
	)
	color := make(map[string]int, len(names))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		color[name] = visiting
		stack = append(stack, name)
		for _, dep := range deps[name] {
			switch color[dep] {
			case visiting:
				for i, n := range stack {
					if n == dep {
						return append(append([]string(nil), stack[i:]...), dep)
					}
				}
			case unvisited:
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = visited
		return nil
	}

	for _, name := range names {
		if color[name] == unvisited {
			if cycle := visit(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Build creates an engine with one WorkTask per task definition. senderFor
// returns the WorkSender for a service name.
func (d *Definition) Build(senderFor func(service string) (types.WorkSender, error), opts ...EngineOption) (*Engine, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	engine := NewEngine(d.Name, append([]EngineOption{WithPriority(d.Priority)}, opts...)...)

	tasks := make(map[string]*Task, len(d.Tasks))
	for _, td := range d.Tasks {
		sender, err := senderFor(td.Service)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", td.Name, err)
		}
		req := &types.WorkRequest{
			Service:   td.Service,
			Type:      td.Type,
			Payload:   td.Payload,
			Priority:  td.Priority,
			Cacheable: td.Cacheable,
			Inputs:    td.Inputs,
		}
		t := NewRequestTask(td.Name, td.Priority, sender, req)
		if err := engine.AddTask(t); err != nil {
			return nil, err
		}
		tasks[td.Name] = t
	}
	for _, td := range d.Tasks {
		for _, dep := range td.DependsOn {
			if err := tasks[td.Name].AddDependency(tasks[dep]); err != nil {
				return nil, err
			}
		}
	}
	return engine, nil
}
