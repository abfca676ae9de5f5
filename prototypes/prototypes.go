// Package prototypes converts serialized prototype files into the JSON
// document consumed by the PrintGuard runtime.
//
// This package wraps the internal converter and exports a small public API.
// Sources may be plain pickles, torch.save archives, SafeTensors files or
// JSON; the format is detected automatically.
//
// Example usage:
//
//	import "github.com/printguard/protoconv/prototypes"
//
//	res, err := prototypes.Convert("model/prototypes/cache/prototypes.pkl")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d prototypes, defect class %q\n",
//	    len(res.Prototypes), res.ClassNames[res.DefectIdx])
//
//	if err := prototypes.WriteJSON(res, "scripts/prototypes.json"); err != nil {
//	    log.Fatal(err)
//	}
package prototypes

import (
	"github.com/printguard/protoconv/internal/convert"
	"github.com/printguard/protoconv/internal/source"
)

// Result is a converted prototype file.
type Result = convert.Result

// Paths are the source and output files of a run.
type Paths = convert.Paths

// Report summarizes a run.
type Report = convert.Report

// Output is a file written by a run.
type Output = convert.Output

// Options configures a Converter.
type Options = convert.Options

// Converter converts prototype files.
type Converter = convert.Converter

// Error describes a failed conversion step.
// Use errors.Is with the Err* values below to classify it.
type Error = convert.Error

// SourceFormat identifies a source file encoding.
type SourceFormat = source.Format

// Supported source formats.
const (
	FormatAuto        SourceFormat = source.FormatAuto
	FormatPickle      SourceFormat = source.FormatPickle
	FormatTorch       SourceFormat = source.FormatTorch
	FormatSafeTensors SourceFormat = source.FormatSafeTensors
	FormatJSON        SourceFormat = source.FormatJSON
	FormatGGUF        SourceFormat = source.FormatGGUF
)

// Failure kinds.
var (
	ErrMissingInput = convert.ErrMissingInput
	ErrDecode       = convert.ErrDecode
	ErrConversion   = convert.ErrConversion
	ErrWrite        = convert.ErrWrite

	ErrChecksumMismatch = convert.ErrChecksumMismatch
)

// DefaultClassNames are used when a source has no class names.
var DefaultClassNames = convert.DefaultClassNames

// New creates a Converter.
func New(opts Options) *Converter {
	return convert.New(opts)
}

// Convert decodes the file at path, detecting its format.
//
// The prototypes field may be a 2-D array or a list of rows. A missing
// prototypes field converts to an empty table, missing class names to
// DefaultClassNames and a missing defect index to 0.
func Convert(path string) (Result, error) {
	return convert.Convert(path)
}

// WriteJSON writes r as indented JSON, creating parent directories.
// Numbers are formatted the way Python's json module writes them.
func WriteJSON(r Result, path string) error {
	return convert.WriteJSON(r, path)
}

// Run converts p.Source to p.Primary and copies the written file to
// p.Secondary.
//
// Example:
//
//	report, err := prototypes.Run(prototypes.Paths{
//	    Source:    "model/prototypes/cache/prototypes.pkl",
//	    Primary:   "scripts/prototypes.json",
//	    Secondary: "model/prototypes/cache/prototypes.json",
//	})
func Run(p Paths) (*Report, error) {
	return convert.Run(p)
}

// Verify checks that a file reported in Report.Outputs is unchanged.
func Verify(o Output) error {
	return convert.Verify(o)
}

// ParseFormat converts a format name ("auto", "pickle", "torch",
// "safetensors", "json", "gguf") to a SourceFormat.
func ParseFormat(s string) (SourceFormat, error) {
	return source.ParseFormat(s)
}
