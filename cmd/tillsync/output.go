package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

var errBadOutputMode = errors.New("invalid output mode")

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

// printYAML writes v as a YAML document.
func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("marshal YAML: %w", err)
	}
	return enc.Close()
}

// render writes v in the mode selected by --json or --yaml, falling back to
// text for the human-readable default.
func (a *app) render(v any, text func(w io.Writer) error) error {
	switch {
	case a.flagJSON:
		return printJSON(a.out, v)
	case a.flagYAML:
		return printYAML(a.out, v)
	default:
		return text(a.out)
	}
}

// plain converts v to generic maps and slices through JSON so that YAML
// output follows the JSON field names, and raw JSON payloads render as
// nested documents rather than byte lists.
func plain(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
