package model

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Condition is one explanatory variable of a task.
type Condition struct {
	EV   int
	Name string
}

// Contrast is a named weight vector over a task's conditions. Weights keep
// the literal text from the file.
type Contrast struct {
	Name    string
	Weights []string
}

// readOrderedMapping parses a JSON (or YAML) document whose root must be a
// mapping. Decoding through yaml.Node keeps the key order of the file, which
// the EV numbering depends on.
func readOrderedMapping(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("could not read %s, make sure it is formatted correctly: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: top level must be an object", path)
	}
	return root, nil
}

// pairs iterates the key/value children of a mapping node.
func pairs(n *yaml.Node, fn func(key string, val *yaml.Node) error) error {
	for i := 0; i+1 < len(n.Content); i += 2 {
		if err := fn(n.Content[i].Value, n.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// parseConditionKey reads {"task": {"1": "name", ...}, ...}.
func parseConditionKey(path string) (map[string][]Condition, error) {
	root, err := readOrderedMapping(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Condition)
	err = pairs(root, func(task string, body *yaml.Node) error {
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("%s: task %q must map EV numbers to condition names", path, task)
		}
		conds := []Condition{}
		err := pairs(body, func(ev string, name *yaml.Node) error {
			n, err := strconv.Atoi(ev)
			if err != nil {
				return fmt.Errorf("%s: task %q: EV key %q is not a number", path, task, ev)
			}
			if name.Kind != yaml.ScalarNode {
				return fmt.Errorf("%s: task %q: EV %d name must be a string", path, task, n)
			}
			conds = append(conds, Condition{EV: n, Name: name.Value})
			return nil
		})
		out[task] = conds
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// parseContrasts reads {"task": {"contrast": [w1, w2, ...], ...}, ...}.
func parseContrasts(path string) (map[string][]Contrast, error) {
	root, err := readOrderedMapping(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Contrast)
	err = pairs(root, func(task string, body *yaml.Node) error {
		if body.Kind != yaml.MappingNode {
			return fmt.Errorf("%s: task %q must map contrast names to weight lists", path, task)
		}
		cons := []Contrast{}
		err := pairs(body, func(name string, vec *yaml.Node) error {
			if vec.Kind != yaml.SequenceNode {
				return fmt.Errorf("%s: task %q: contrast %q must be a list of weights", path, task, name)
			}
			c := Contrast{Name: name}
			for _, w := range vec.Content {
				if _, err := strconv.ParseFloat(w.Value, 64); err != nil {
					return fmt.Errorf("%s: task %q: contrast %q: weight %q is not a number", path, task, name, w.Value)
				}
				c.Weights = append(c.Weights, w.Value)
			}
			cons = append(cons, c)
			return nil
		})
		out[task] = cons
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
