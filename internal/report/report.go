// Package report renders build reports for people and for tools.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/flarebyte/fabrik/internal/plan"
	"github.com/flarebyte/fabrik/internal/scheduler"
)

// Format selects a rendering.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json and yaml.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	}
	return "", plan.Errorf("unknown report format %q (expected text, json or yaml)", s)
}

// Write renders r to w in the given format.
func Write(w io.Writer, f Format, r *scheduler.Report) error {
	switch f {
	case FormatJSON:
		return encodeJSON(w, r)
	case FormatYAML:
		b, err := MarshalYAML(r)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	default:
		return writeText(w, r)
	}
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
