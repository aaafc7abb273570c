package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// compileFilters parses and compiles jq expressions.
func compileFilters(filters []string) ([]*gojq.Code, error) {
	compiled := make([]*gojq.Code, len(filters))
	for i, filter := range filters {
		query, err := gojq.Parse(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
		}
		compiled[i], err = gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
		}
	}
	return compiled, nil
}

// toJQValue round-trips v through JSON so gojq sees plain maps and slices.
func toJQValue(v interface{}) (interface{}, error) {
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

// outputJQ runs filter over v and writes every result as compact JSON, one
// per line, the way jq -c does.
func outputJQ(w io.Writer, v interface{}, filter string) error {
	codes, err := compileFilters([]string{filter})
	if err != nil {
		return err
	}
	input, err := toJQValue(v)
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	iter := codes[0].Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter failed: %w", err)
		}
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode jq result: %w", err)
		}
		fmt.Fprintln(w, string(data))
	}
}

// matchesAll reports whether every compiled filter yields a truthy first
// result for v.
func matchesAll(codes []*gojq.Code, v interface{}) bool {
	if len(codes) == 0 {
		return true
	}
	input, err := toJQValue(v)
	if err != nil {
		return false
	}
	for _, code := range codes {
		result, ok := code.Run(input).Next()
		if !ok {
			return false
		}
		if _, isErr := result.(error); isErr {
			return false
		}
		if !isTruthy(result) {
			return false
		}
	}
	return true
}

// isTruthy follows jq: everything except false and null is true.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	return true
}

// render writes v with --jq when set, as JSON with --json, and otherwise
// calls pretty.
func render(c *cli.Context, v interface{}, pretty func(w io.Writer)) error {
	w := c.App.Writer
	if filter := c.String("jq"); filter != "" {
		return outputJQ(w, v, filter)
	}
	if c.Bool("json") {
		return outputJSON(w, v)
	}
	pretty(w)
	return nil
}
