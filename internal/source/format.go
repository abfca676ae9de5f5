package source

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Errors shared by decoders.
var (
	ErrUnknownFormat = errors.New("unknown source format")
	ErrNotMapping    = errors.New("decoded value is not a mapping")
	ErrKeyType       = errors.New("mapping key is not a string")
)

// Format identifies a source file encoding.
type Format int

// Supported source formats.
const (
	FormatAuto Format = iota
	FormatPickle
	FormatTorch
	FormatSafeTensors
	FormatJSON
	FormatGGUF
)

// String returns the format name as accepted by ParseFormat.
func (f Format) String() string {
	switch f {
	case FormatAuto:
		return "auto"
	case FormatPickle:
		return "pickle"
	case FormatTorch:
		return "torch"
	case FormatSafeTensors:
		return "safetensors"
	case FormatJSON:
		return "json"
	case FormatGGUF:
		return "gguf"
	default:
		return "unknown"
	}
}

// ParseFormat converts a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "pickle", "pkl":
		return FormatPickle, nil
	case "torch", "pytorch", "pt":
		return FormatTorch, nil
	case "safetensors":
		return FormatSafeTensors, nil
	case "json":
		return FormatJSON, nil
	case "gguf":
		return FormatGGUF, nil
	default:
		return FormatAuto, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// legacyTorchMagic is the pickled LONG1 magic number that opens a legacy
// (pre zip) torch.save stream: 0x1950a86a20f9469cfc6c, little endian.
var legacyTorchMagic = []byte{0x8a, 0x0a, 0x6c, 0xfc, 0x9c, 0x46, 0xf9, 0x20, 0x6a, 0xa8, 0x50, 0x19}

const sniffSize = 16

// Detect determines the format of the file at path, first from its leading
// bytes and then from its extension.
func Detect(path string) (Format, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for conversion
	f, err := os.Open(path)
	if err != nil {
		return FormatAuto, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	head := make([]byte, sniffSize)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return FormatAuto, fmt.Errorf("failed to read file header: %w", err)
	}
	head = head[:n]

	info, err := f.Stat()
	if err != nil {
		return FormatAuto, fmt.Errorf("failed to stat file: %w", err)
	}

	if format := sniff(head, info.Size()); format != FormatAuto {
		return format, nil
	}
	if format := formatFromExt(path); format != FormatAuto {
		return format, nil
	}
	return FormatAuto, fmt.Errorf("%w: %s", ErrUnknownFormat, filepath.Base(path))
}

// sniff recognizes a format from the first bytes of a file of the given size.
func sniff(head []byte, size int64) Format {
	switch {
	case bytes.HasPrefix(head, []byte("PK\x03\x04")):
		return FormatTorch
	case bytes.HasPrefix(head, []byte("GGUF")):
		return FormatGGUF
	case len(head) >= 2 && head[0] == 0x80 && head[1] >= 2 && head[1] <= 5:
		if bytes.HasPrefix(head[2:], legacyTorchMagic) {
			return FormatTorch
		}
		return FormatPickle
	}

	// SafeTensors: 8-byte little-endian header length, then a JSON object.
	if len(head) > 8 && head[8] == '{' {
		headerSize := binary.LittleEndian.Uint64(head[:8])
		//nolint:gosec // G115: size is a file size, always non-negative.
		if headerSize >= 2 && headerSize <= uint64(size-8) {
			return FormatSafeTensors
		}
	}

	if trimmed := bytes.TrimLeft(head, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatAuto
}

func formatFromExt(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pkl", ".pickle":
		return FormatPickle
	case ".pt", ".pth", ".bin":
		return FormatTorch
	case ".safetensors":
		return FormatSafeTensors
	case ".json":
		return FormatJSON
	case ".gguf":
		return FormatGGUF
	default:
		return FormatAuto
	}
}
