package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/printguard/protoconv/internal/config"
	"github.com/printguard/protoconv/internal/convert"
	"github.com/printguard/protoconv/internal/logging"
)

type rootFlags struct {
	configPath string
	dir        string
	source     string
	output     string
	copyTo     string
	noCopy     bool
	format     string
	logLevel   string
	logFormat  string
	quiet      bool
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:   "protoconv",
		Short: "Convert serialized prototypes to JSON",
		Long: "protoconv reads the prototype cache (pickle, torch.save, SafeTensors, GGUF or JSON),\n" +
			"converts the prototype vectors to plain arrays and writes prototypes.json\n" +
			"to the tool directory and next to the cache. Written files are re-read\n" +
			"and checked against their SHA-256 digests.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConvert(cmd, &flags)
		},
	}
	cmd.Version = version

	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "YAML config file")
	f.StringVar(&flags.dir, "dir", ".", "Tool directory (default: working directory); default paths are relative to it")
	f.StringVar(&flags.source, "source", "", "Source file (default <dir>/"+config.DefaultSource+")")
	f.StringVar(&flags.output, "output", "", "Primary JSON output (default <dir>/"+config.DefaultOutput+")")
	f.StringVar(&flags.copyTo, "copy-to", "", "Secondary JSON copy (default <dir>/"+config.DefaultCopyTo+")")
	f.BoolVar(&flags.noCopy, "no-copy", false, "Skip the secondary copy")
	f.StringVar(&flags.format, "format", "auto", "Source format: auto, pickle, torch, safetensors, json, gguf")
	f.StringVar(&flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	f.StringVar(&flags.logFormat, "log-format", "text", "Log format: text, json")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "Do not print the summary")
	cmd.MarkFlagsMutuallyExclusive("copy-to", "no-copy")

	cmd.AddCommand(newInspectCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig reads the config file, if any, and applies explicitly set flags on top.
func loadConfig(cmd *cobra.Command, flags *rootFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.Load(flags.configPath); err != nil {
			return nil, err
		}
	}

	changed := cmd.Flags().Changed
	if changed("dir") {
		cfg.Dir = flags.dir
	}
	if changed("source") {
		cfg.Source = flags.source
	}
	if changed("output") {
		cfg.Output = flags.output
	}
	if changed("copy-to") {
		cfg.CopyTo = flags.copyTo
		cfg.NoCopy = false
	}
	if changed("no-copy") {
		cfg.NoCopy = flags.noCopy
	}
	if changed("format") {
		cfg.Format = flags.format
	}
	if changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runConvert(cmd *cobra.Command, flags *rootFlags) error {
	cfg, err := loadConfig(cmd, flags)
	if err != nil {
		return err
	}
	if err := logging.Init(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format, cmd.ErrOrStderr()); err != nil {
		return err
	}

	format, err := cfg.SourceFormat()
	if err != nil {
		return err
	}
	paths, err := cfg.Resolve()
	if err != nil {
		return err
	}

	report, err := convert.New(convert.Options{Format: format}).Run(paths)
	if err != nil {
		return err
	}
	for _, out := range report.Outputs {
		if err := convert.Verify(out); err != nil {
			return err
		}
	}
	if !flags.quiet {
		printSummary(cmd.OutOrStdout(), report)
	}
	return nil
}

func printSummary(w io.Writer, r *convert.Report) {
	fmt.Fprintf(w, "Converted %s (%s)\n", r.Source, r.Format)
	fmt.Fprintf(w, "Prototypes shape: %d x %d\n", r.Rows, r.Cols)
	fmt.Fprintf(w, "Class names:      [%s]\n", strings.Join(r.ClassNames, ", "))
	fmt.Fprintf(w, "Defect index:     %d\n", r.DefectIdx)
	for i, out := range r.Outputs {
		label := "Written to:"
		if i > 0 {
			label = "Copied to: "
		}
		//nolint:gosec // G115: file sizes are non-negative
		fmt.Fprintf(w, "%s       %s (%s, sha256 %.12s)\n", label, out.Path, humanize.Bytes(uint64(out.Size)), out.SHA256)
	}
}
