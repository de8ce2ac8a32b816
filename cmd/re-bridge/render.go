package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// ErrUnknownFormat is returned for an unsupported --output value.
var ErrUnknownFormat = errors.New("unknown output format")

// renderer writes command results as a table, JSON or YAML.
type renderer struct {
	output io.Writer
	format string
}

func newRenderer(output io.Writer, format string) (*renderer, error) {
	switch format {
	case formatTable, formatJSON, formatYAML:
	default:
		return nil, fmt.Errorf("%w: %q (expected table, json or yaml)", ErrUnknownFormat, format)
	}

	return &renderer{output: output, format: format}, nil
}

// Render writes items in the structured formats, or the table built from
// header and records otherwise.
func (r *renderer) Render(items interface{}, header []interface{}, records [][]interface{}) error {
	switch r.format {
	case formatJSON:
		return r.RenderJSON(items)
	case formatYAML:
		return r.RenderYAML(items)
	default:
		r.RenderTable(header, records)

		return nil
	}
}

// RenderText writes raw text in table mode and items otherwise.
func (r *renderer) RenderText(items interface{}, text string) error {
	if r.format == formatTable {
		_, err := fmt.Fprintln(r.output, text)

		return err
	}

	return r.Render(items, nil, nil)
}

func (r *renderer) RenderTable(header []interface{}, records [][]interface{}) {
	tw := table.NewWriter()
	tw.SetOutputMirror(r.output)
	tw.SetStyle(table.Style{
		Name: "re-bridge",
		Box: table.BoxStyle{
			MiddleVertical: "|",
			PaddingLeft:    " ",
			PaddingRight:   " ",
		},
		Options: table.Options{
			DoNotColorBordersAndSeparators: true,
			DrawBorder:                     false,
			SeparateColumns:                true,
		},
		Color:  table.ColorOptionsDefault,
		Format: table.FormatOptionsDefault,
		HTML:   table.DefaultHTMLOptions,
		Title:  table.TitleOptionsDefault,
	})
	tw.AppendHeader(table.Row(header))

	rows := make([]table.Row, len(records))
	for i, record := range records {
		rows[i] = table.Row(record)
	}

	tw.AppendRows(rows)
	tw.Render()
}

func (r *renderer) RenderYAML(items interface{}) error {
	body, err := yaml.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to render YAML: %w", err)
	}

	_, err = fmt.Fprint(r.output, string(body))

	return err
}

func (r *renderer) RenderJSON(items interface{}) error {
	body, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to render JSON: %w", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return fmt.Errorf("failed to indent JSON: %w", err)
	}

	_, err = fmt.Fprintln(r.output, pretty.String())

	return err
}
