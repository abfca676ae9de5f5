// Package convert turns a serialized prototype mapping into the JSON
// document consumed by the inference runtime.
//
// A conversion decodes the source file through a source.Decoder, extracts
// the prototypes table, class names and defect index, and writes them as
// indented JSON. Run additionally copies the written document to a second
// location by reading it back from disk.
package convert

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/printguard/protoconv/internal/logging"
	"github.com/printguard/protoconv/internal/pyjson"
	"github.com/printguard/protoconv/internal/source"
)

// Options configures a Converter. The zero value auto-detects the source
// format using DefaultRegistry.
type Options struct {
	Format   source.Format    // Source format, FormatAuto to detect
	Decoder  source.Decoder   // Overrides Format and Registry when set
	Registry *source.Registry // Decoders to choose from, DefaultRegistry() when nil
	Logger   *slog.Logger     // Progress logger, logging.New("convert") when nil
}

// Converter converts prototype files.
type Converter struct {
	format   source.Format
	decoder  source.Decoder
	registry *source.Registry
	log      *slog.Logger
}

// New creates a Converter.
func New(opts Options) *Converter {
	c := &Converter{
		format:   opts.Format,
		decoder:  opts.Decoder,
		registry: opts.Registry,
		log:      opts.Logger,
	}
	if c.registry == nil {
		c.registry = DefaultRegistry()
	}
	if c.log == nil {
		c.log = logging.New("convert")
	}
	return c
}

// Paths are the files touched by Run.
type Paths struct {
	Source    string // Serialized prototype mapping
	Primary   string // First JSON output
	Secondary string // Copy of Primary; empty skips the copy
}

// Output is a written file.
type Output struct {
	Path   string
	Size   int64
	SHA256 string // Hex digest of the written bytes
}

// Report summarizes a conversion.
type Report struct {
	Source     string
	Format     source.Format
	Keys       []string
	Rows       int
	Cols       int
	Ragged     bool
	ClassNames []string
	DefectIdx  int64
	Outputs    []Output
}

// Convert decodes the file at path and extracts the prototype fields.
func (c *Converter) Convert(path string) (Result, error) {
	res, _, err := c.convert(path)
	return res, err
}

func (c *Converter) convert(path string) (Result, *Report, error) {
	if err := checkInput(path); err != nil {
		return Result{}, nil, newError("convert", path, ErrMissingInput, err)
	}

	dec := c.decoder
	if dec == nil {
		var err error
		dec, err = c.registry.Lookup(c.format, path)
		if err != nil {
			return Result{}, nil, newError("convert", path, ErrDecode, err)
		}
	}

	obj, err := dec.Decode(path)
	if err != nil {
		return Result{}, nil, newError("convert", path, ErrDecode, err)
	}
	c.log.Info("loaded source file", "path", path, "format", dec.Format().String())
	c.log.Info("data keys", "keys", obj.Keys())

	res, err := extract(obj)
	if err != nil {
		return Result{}, nil, newError("convert", path, ErrConversion, err)
	}

	rows, cols := res.Shape()
	report := &Report{
		Source:     path,
		Format:     dec.Format(),
		Keys:       obj.Keys(),
		Rows:       rows,
		Cols:       cols,
		Ragged:     res.Ragged(),
		ClassNames: res.ClassNames,
		DefectIdx:  res.DefectIdx,
	}

	if report.Ragged {
		c.log.Warn("prototype rows differ in length", "rows", rows, "first_row", cols)
	}
	c.log.Info("converted prototypes",
		"shape", fmt.Sprintf("%d x %d", rows, cols),
		"class_names", res.ClassNames,
		"defect_idx", res.DefectIdx,
	)
	return res, report, nil
}

// WriteJSON writes r to path, creating parent directories as needed.
func (c *Converter) WriteJSON(r Result, path string) error {
	_, err := c.write("write", r, path)
	return err
}

func (c *Converter) write(op string, r Result, path string) (Output, error) {
	data, err := pyjson.MarshalIndent(r.document())
	if err != nil {
		return Output{}, newError(op, path, ErrWrite, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Output{}, newError(op, path, ErrWrite, err)
	}
	//nolint:gosec // G306: output is meant to be readable by the runtime
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Output{}, newError(op, path, ErrWrite, err)
	}

	out := Output{Path: path, Size: int64(len(data)), SHA256: checksum(data)}
	c.log.Info("wrote JSON file", "path", path, "size", humanize.Bytes(uint64(out.Size)))
	c.log.Debug("output checksum", "path", path, "sha256", out.SHA256)
	return out, nil
}

// Run converts p.Source, writes the result to p.Primary, then copies the
// written document to p.Secondary. The copy is produced from the bytes
// on disk, not from the in-memory result.
func (c *Converter) Run(p Paths) (*Report, error) {
	if err := checkInput(p.Source); err != nil {
		return nil, newError("run", p.Source, ErrMissingInput, err)
	}

	res, report, err := c.convert(p.Source)
	if err != nil {
		return nil, err
	}

	primary, err := c.write("write", res, p.Primary)
	if err != nil {
		return report, err
	}
	report.Outputs = append(report.Outputs, primary)

	if p.Secondary == "" {
		c.log.Debug("copy skipped")
		return report, nil
	}

	secondary, err := c.copy(p.Primary, p.Secondary)
	if err != nil {
		return report, err
	}
	report.Outputs = append(report.Outputs, secondary)
	if secondary.SHA256 != primary.SHA256 {
		c.log.Warn("copy differs from written file",
			"primary", primary.SHA256,
			"secondary", secondary.SHA256,
		)
	}
	c.log.Info("copied JSON file", "path", p.Secondary)
	return report, nil
}

// copy re-reads a written document and writes it again at dst.
func (c *Converter) copy(src, dst string) (Output, error) {
	//nolint:gosec // G304: src is the file this run just wrote
	data, err := os.ReadFile(src)
	if err != nil {
		return Output{}, newError("copy", src, ErrWrite, err)
	}
	var res Result
	if err := res.UnmarshalJSON(data); err != nil {
		return Output{}, newError("copy", src, ErrWrite, err)
	}
	return c.write("copy", res, dst)
}

func checkInput(path string) error {
	if path == "" {
		return errors.New("no path given")
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return fmt.Errorf("stat: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

// Convert converts the file at path with default options.
func Convert(path string) (Result, error) {
	return New(Options{}).Convert(path)
}

// WriteJSON writes r to path with default options.
func WriteJSON(r Result, path string) error {
	return New(Options{}).WriteJSON(r, path)
}

// Run performs a full conversion with default options.
func Run(p Paths) (*Report, error) {
	return New(Options{}).Run(p)
}
