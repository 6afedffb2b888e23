package main

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// jqFilter is a set of compiled jq predicates; a value matches when every
// predicate yields a truthy first result.
type jqFilter []*gojq.Code

func compileJQ(filters []string) (jqFilter, error) {
	codes := make(jqFilter, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		codes[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return codes, nil
}

// Match reports whether v, after a JSON round trip into generic values,
// satisfies every filter.
func (f jqFilter) Match(v interface{}) bool {
	if len(f) == 0 {
		return true
	}
	generic, err := toGeneric(v)
	if err != nil {
		return false
	}
	for _, code := range f {
		iter := code.Run(generic)
		out, ok := iter.Next()
		if !ok {
			return false
		}
		if _, isErr := out.(error); isErr {
			return false
		}
		if !isTruthy(out) {
			return false
		}
	}
	return true
}

// gojq only accepts the types encoding/json produces.
func toGeneric(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}
