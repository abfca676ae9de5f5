// Package pyjson writes JSON the way Python's json.dump(obj, f, indent=2)
// does, so files produced here match files produced by the Python tooling
// byte for byte: floats use repr formatting (1.0, 1e-05, NaN), text outside
// printable ASCII is escaped, and the document has no trailing newline.
package pyjson

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/segmentio/encoding/json"
)

// Indent is the indentation unit of written documents.
const Indent = "  "

// nonFiniteMark tags NaN and infinities while they pass through the
// encoder and decoder, which only accept strict JSON. Written documents carry
// the bare tokens Python uses: NaN, Infinity and -Infinity.
const nonFiniteMark = "\x00\ufdd0nonfinite:"

// escapedMark is nonFiniteMark as it appears in encoded output.
const escapedMark = `"\u0000\ufdd0nonfinite:`

var nonFiniteTokens = []string{"NaN", "Infinity", "-Infinity"}

// Float is a float64 that marshals like Python's float repr.
type Float float64

// MarshalJSON implements json.Marshaler.
func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(nonFiniteMark + FormatFloat(v))
	}
	return []byte(FormatFloat(v)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	if len(data) == 0 || data[0] != '"' {
		v, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return fmt.Errorf("pyjson: invalid number %s", data)
		}
		*f = Float(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch tok, _ := strings.CutPrefix(s, nonFiniteMark); {
	case s == tok:
		return fmt.Errorf("pyjson: cannot decode string %s into a float", data)
	case tok == "NaN":
		*f = Float(math.NaN())
	case tok == "Infinity":
		*f = Float(math.Inf(1))
	case tok == "-Infinity":
		*f = Float(math.Inf(-1))
	default:
		return fmt.Errorf("pyjson: unknown float token %q", tok)
	}
	return nil
}

// Floats converts a table of float64 to Float.
func Floats(rows [][]float64) [][]Float {
	out := make([][]Float, len(rows))
	for i, row := range rows {
		r := make([]Float, len(row))
		for j, v := range row {
			r[j] = Float(v)
		}
		out[i] = r
	}
	return out
}

// Float64s converts a table of Float back to float64.
func Float64s(rows [][]Float) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		r := make([]float64, len(row))
		for j, v := range row {
			r[j] = float64(v)
		}
		out[i] = r
	}
	return out
}

// FormatFloat renders f as Python's json module does: repr digits (the
// shortest round-tripping ones, fixed notation for exponents in [-4, 16), a
// trailing ".0" on integral values, two-digit signed exponents otherwise),
// and NaN, Infinity or -Infinity for non-finite values.
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}

	// "-d.dddde±XX"
	e := strconv.FormatFloat(f, 'e', -1, 64)
	sign := ""
	if e[0] == '-' {
		sign = "-"
		e = e[1:]
	}
	mant, expStr, _ := strings.Cut(e, "e")
	exp, _ := strconv.Atoi(expStr)
	digits := strings.Replace(mant, ".", "", 1)

	var b strings.Builder
	b.WriteString(sign)
	switch {
	case exp < -4 || exp >= 16:
		b.WriteByte(digits[0])
		if len(digits) > 1 {
			b.WriteByte('.')
			b.WriteString(digits[1:])
		}
		b.WriteByte('e')
		if exp < 0 {
			b.WriteByte('-')
			exp = -exp
		} else {
			b.WriteByte('+')
		}
		if exp < 10 {
			b.WriteByte('0')
		}
		b.WriteString(strconv.Itoa(exp))
	case exp < 0:
		b.WriteString("0.")
		b.WriteString(strings.Repeat("0", -exp-1))
		b.WriteString(digits)
	default:
		intLen := exp + 1
		if len(digits) <= intLen {
			b.WriteString(digits)
			b.WriteString(strings.Repeat("0", intLen-len(digits)))
			b.WriteString(".0")
		} else {
			b.WriteString(digits[:intLen])
			b.WriteByte('.')
			b.WriteString(digits[intLen:])
		}
	}
	return b.String()
}

// MarshalIndent encodes v with two-space indentation and Python's default
// ensure_ascii escaping, without a trailing newline.
func MarshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", Indent)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	out := escapeASCII(bytes.TrimRight(buf.Bytes(), "\n"))
	if bytes.Contains(out, []byte(escapedMark)) {
		for _, tok := range nonFiniteTokens {
			out = bytes.ReplaceAll(out, []byte(escapedMark+tok+`"`), []byte(tok))
		}
	}
	return out, nil
}

// Unmarshal decodes JSON data into v. Like Python's json.load it accepts
// NaN, Infinity and -Infinity where a Float is expected.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(quoteNonFinite(data), v)
}

// quoteNonFinite replaces the bare non-finite tokens outside strings with
// marked strings that Float.UnmarshalJSON understands.
func quoteNonFinite(data []byte) []byte {
	var out []byte
	last := 0
	inString, escaped := false, false
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			continue
		}
		for _, tok := range nonFiniteTokens {
			if !bytes.HasPrefix(data[i:], []byte(tok)) {
				continue
			}
			out = append(out, data[last:i]...)
			out = append(out, escapedMark+tok+`"`...)
			i += len(tok) - 1
			last = i + 1
			break
		}
	}
	if out == nil {
		return data
	}
	return append(out, data[last:]...)
}

// escapeASCII rewrites the encoder's output into Python's ensure_ascii
// form: every rune outside printable ASCII, DEL included, becomes a \uXXXX
// escape (surrogate pairs above the BMP), and backspace and form feed use
// their short escapes. Outside strings JSON text is printable ASCII, so the
// whole document can be scanned.
func escapeASCII(data []byte) []byte {
	clean := true
	for _, c := range data {
		if c >= 0x7F || c == '\\' {
			clean = false
			break
		}
	}
	if clean {
		return data
	}

	out := make([]byte, 0, len(data)+16)
	for len(data) > 0 {
		if data[0] == '\\' {
			n := 2
			if len(data) >= 6 && data[1] == 'u' {
				n = 6
			}
			n = min(n, len(data))
			switch string(data[:n]) {
			case `\u0008`:
				out = append(out, `\b`...)
			case `\u000c`:
				out = append(out, `\f`...)
			default:
				out = append(out, data[:n]...)
			}
			data = data[n:]
			continue
		}

		r, size := utf8.DecodeRune(data)
		data = data[size:]
		switch {
		case r < 0x7F:
			out = append(out, byte(r))
		case r > 0xFFFF:
			r1, r2 := utf16.EncodeRune(r)
			out = fmt.Appendf(out, `\u%04x\u%04x`, r1, r2)
		default:
			out = fmt.Appendf(out, `\u%04x`, r)
		}
	}
	return out
}
