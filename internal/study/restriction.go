package study

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// ParseRestriction decodes a restriction payload, the JSON form produced by
// MarshalJSON. The layout is taken from the first subject: if its first key
// carries the session tag the payload is sessioned.
func ParseRestriction(data []byte) (*Hierarchy, error) {
	var raw map[string]map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid restriction payload: %w", err)
	}

	layout := detectLayout(raw)
	h := New(layout)
	for _, sub := range slices.Sorted(maps.Keys(raw)) {
		if !strings.HasPrefix(sub, SubjectTag) {
			return nil, fmt.Errorf("restriction key %q does not start with %q", sub, SubjectTag)
		}
		h.AddSubject(sub)
		for key, body := range raw[sub] {
			if layout == WithoutSessions {
				var runs []string
				if err := json.Unmarshal(body, &runs); err != nil {
					return nil, fmt.Errorf("restriction %s/%s: runs must be a list of strings: %w", sub, key, err)
				}
				h.Add(sub, noSession, key, runs...)
				continue
			}
			if !strings.HasPrefix(key, SessionTag) {
				return nil, fmt.Errorf("restriction %s: key %q does not start with %q", sub, key, SessionTag)
			}
			var tasks map[string][]string
			if err := json.Unmarshal(body, &tasks); err != nil {
				return nil, fmt.Errorf("restriction %s/%s: %w", sub, key, err)
			}
			h.AddSession(sub, key)
			for task, runs := range tasks {
				h.Add(sub, key, task, runs...)
			}
		}
	}
	return h, nil
}

func detectLayout[V any](raw map[string]map[string]V) Layout {
	if len(raw) == 0 {
		return WithoutSessions
	}
	first := raw[slices.Min(slices.Collect(maps.Keys(raw)))]
	if len(first) == 0 {
		return WithoutSessions
	}
	if strings.HasPrefix(slices.Min(slices.Collect(maps.Keys(first))), SessionTag) {
		return WithSessions
	}
	return WithoutSessions
}

// FromCty converts an HCL object literal of the restriction shape into a
// hierarchy. Run identifiers may be written as strings or numbers. A null or
// empty value yields an empty hierarchy.
func FromCty(v cty.Value) (*Hierarchy, error) {
	if v.IsNull() || !v.IsKnown() {
		return New(WithoutSessions), nil
	}

	subjects, err := ctyObject(v)
	if err != nil {
		return nil, fmt.Errorf("specificruns: %w", err)
	}
	nested := make(map[string]map[string]cty.Value, len(subjects))
	for sub, val := range subjects {
		inner, err := ctyObject(val)
		if err != nil {
			return nil, fmt.Errorf("specificruns %s: %w", sub, err)
		}
		nested[sub] = inner
	}

	h := New(detectLayout(nested))
	for sub, inner := range nested {
		if !strings.HasPrefix(sub, SubjectTag) {
			return nil, fmt.Errorf("specificruns key %q does not start with %q", sub, SubjectTag)
		}
		h.AddSubject(sub)
		for key, val := range inner {
			if !h.HasSessions() {
				runs, err := ctyRuns(val)
				if err != nil {
					return nil, fmt.Errorf("specificruns %s/%s: %w", sub, key, err)
				}
				h.Add(sub, noSession, key, runs...)
				continue
			}
			if !strings.HasPrefix(key, SessionTag) {
				return nil, fmt.Errorf("specificruns %s: key %q does not start with %q", sub, key, SessionTag)
			}
			tasks, err := ctyObject(val)
			if err != nil {
				return nil, fmt.Errorf("specificruns %s/%s: %w", sub, key, err)
			}
			h.AddSession(sub, key)
			for task, runsVal := range tasks {
				runs, err := ctyRuns(runsVal)
				if err != nil {
					return nil, fmt.Errorf("specificruns %s/%s/%s: %w", sub, key, task, err)
				}
				h.Add(sub, key, task, runs...)
			}
		}
	}
	return h, nil
}

func ctyObject(v cty.Value) (map[string]cty.Value, error) {
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}
	out := make(map[string]cty.Value)
	if v.IsNull() {
		return out, nil
	}
	it := v.ElementIterator()
	for it.Next() {
		key, elem := it.Element()
		out[key.AsString()] = elem
	}
	return out, nil
}

func ctyRuns(v cty.Value) ([]string, error) {
	ty := v.Type()
	if !ty.IsTupleType() && !ty.IsListType() && !ty.IsSetType() {
		return nil, fmt.Errorf("expected a list of runs, got %s", ty.FriendlyName())
	}
	var runs []string
	it := v.ElementIterator()
	for it.Next() {
		_, elem := it.Element()
		s, err := convert.Convert(elem, cty.String)
		if err != nil {
			return nil, fmt.Errorf("run identifier: %w", err)
		}
		if s.IsNull() {
			return nil, fmt.Errorf("run identifier must not be null")
		}
		runs = append(runs, s.AsString())
	}
	return runs, nil
}
