package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// Schema maps field names to their expected types.
type Schema map[string]Type

// Fields returns the declared field names, sorted.
func (s Schema) Fields() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks data against the schema and reports every failing field.
// Fields not declared in the schema are ignored.
func (s Schema) Validate(data map[string]any) error {
	var errs []error
	for _, key := range s.Fields() {
		t := s[key]
		value, exists := data[key]
		if !exists || value == nil {
			if IsOptional(t) {
				continue
			}
			errs = append(errs, &ValidationError{Key: key, Reason: "required"})
			continue
		}
		if err := t.Validate(value); err != nil {
			errs = append(errs, &ValidationError{Key: key, Reason: err.Error(), Value: value})
		}
	}
	if len(errs) > 0 {
		return &AggregateError{Errors: errs}
	}
	return nil
}

// ValidatePayload checks a pipeline payload. Only JSON objects can satisfy a non-empty schema.
func (s Schema) ValidatePayload(payload any) error {
	if len(s) == 0 {
		return nil
	}
	data, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("expected an object with fields %v, got %T", s.Fields(), payload)
	}
	return s.Validate(data)
}

func (s Schema) names() map[string]string {
	raw := make(map[string]string, len(s))
	for key, t := range s {
		raw[key] = t.Name()
	}
	return raw
}

func (s Schema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.names())
}

func (s *Schema) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*s = nil
		return nil
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Schema) MarshalYAML() (any, error) {
	return s.names(), nil
}

func (s *Schema) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
