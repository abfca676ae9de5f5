package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/printguard/protoconv/internal/convert"
	"github.com/printguard/protoconv/internal/source"
	"github.com/printguard/protoconv/internal/tensor"
)

type inspectFlags struct {
	format   string
	markdown bool
}

func newInspectCmd() *cobra.Command {
	var flags inspectFlags

	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show the keys and value kinds of a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], &flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.format, "format", "auto", "Source format: auto, pickle, torch, safetensors, json, gguf")
	f.BoolVar(&flags.markdown, "markdown", false, "Render the key table as Markdown")
	return cmd
}

func runInspect(cmd *cobra.Command, path string, flags *inspectFlags) error {
	format, err := source.ParseFormat(flags.format)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("inspect: %w", err)
	}

	dec, err := convert.DefaultRegistry().Lookup(format, path)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}
	obj, err := dec.Decode(path)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	out := cmd.OutOrStdout()
	//nolint:gosec // G115: file sizes are non-negative
	fmt.Fprintf(out, "File:    %s (%s)\n", path, humanize.Bytes(uint64(info.Size())))
	fmt.Fprintf(out, "Format:  %s\n", dec.Format())
	fmt.Fprintf(out, "Keys:    %d\n", obj.Len())

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Key", "Kind", "Elements"})
	for _, key := range obj.Keys() {
		v, _ := obj.Get(key)
		t.AppendRow(table.Row{key, source.Kind(v), elements(v)})
	}
	t.SetColumnConfigs([]table.ColumnConfig{{Number: 3, Align: text.AlignRight}})

	if flags.markdown {
		fmt.Fprintln(out, t.RenderMarkdown())
		return nil
	}
	t.SetStyle(table.StyleLight)
	fmt.Fprintln(out, t.Render())
	return nil
}

// elements counts the scalar values held by v.
func elements(v any) string {
	switch x := v.(type) {
	case *tensor.Tensor:
		return humanize.Comma(int64(x.NumElements()))
	case []any:
		n := 0
		for _, item := range x {
			if row, ok := item.([]any); ok {
				n += len(row)
			} else {
				n++
			}
		}
		return humanize.Comma(int64(n))
	case *source.Object:
		return humanize.Comma(int64(x.Len()))
	case nil:
		return "0"
	default:
		return "1"
	}
}
