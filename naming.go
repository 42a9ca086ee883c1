package cedartoy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	hashRun   = regexp.MustCompile(`#+`)
	printfInt = regexp.MustCompile(`%(0?)(\d*)d`)
)

// ResolveOutputPath builds the file path of one output frame.
//
// The pattern may contain runs of '#' (replaced by the frame number padded
// to the run length), printf-style %d / %0Nd verbs, and the brace fields
// {frame}, {frame:0Nd}, {frame:Nd}, {frame:N} and {ext}. A pattern without
// any frame placeholder gets "_NNNNN.<ext>" appended, replacing a matching
// extension. A brace field other than frame or ext yields "out_NNNNN.<ext>".
func ResolveOutputPath(dir, pattern string, frame int, ext string) string {
	return filepath.Join(dir, outputName(pattern, frame, ext))
}

func outputName(pattern string, frame int, ext string) string {
	if !strings.Contains(pattern, "{frame") && !strings.Contains(pattern, "%") && !strings.Contains(pattern, "#") {
		base := pattern
		if ext != "" && strings.EqualFold(filepath.Ext(base), "."+ext) {
			base = strings.TrimSuffix(base, filepath.Ext(base))
		}
		return fmt.Sprintf("%s_%05d.%s", base, frame, ext)
	}

	name := hashRun.ReplaceAllStringFunc(pattern, func(run string) string {
		return fmt.Sprintf("%0*d", len(run), frame)
	})
	name = printfInt.ReplaceAllStringFunc(name, func(verb string) string {
		m := printfInt.FindStringSubmatch(verb)
		return padFrame(frame, m[2], m[1] == "0")
	})

	out, ok := formatFields(name, frame, ext)
	if !ok {
		return fmt.Sprintf("out_%05d.%s", frame, ext)
	}
	return out
}

// formatFields expands {frame[:spec]} and {ext}. "{{" and "}}" are literal
// braces. It reports false for unknown fields, bad specs or unbalanced
// braces.
func formatFields(s string, frame int, ext string) (string, bool) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '}':
			return "", false
		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return "", false
			}
			field, spec, _ := strings.Cut(s[i+1:i+end], ":")
			switch field {
			case "frame":
				v, ok := frameSpec(frame, spec)
				if !ok {
					return "", false
				}
				b.WriteString(v)
			case "ext":
				if spec != "" {
					return "", false
				}
				b.WriteString(ext)
			default:
				return "", false
			}
			i += end
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), true
}

// frameSpec formats frame per an integer format spec: "", "d", "N", "Nd",
// "0N" or "0Nd".
func frameSpec(frame int, spec string) (string, bool) {
	spec = strings.TrimSuffix(spec, "d")
	if spec == "" {
		return strconv.Itoa(frame), true
	}
	zero := strings.HasPrefix(spec, "0")
	width := spec
	if zero {
		width = spec[1:]
	}
	if width == "" {
		return strconv.Itoa(frame), true
	}
	if _, err := strconv.Atoi(width); err != nil {
		return "", false
	}
	return padFrame(frame, width, zero), true
}

func padFrame(frame int, width string, zero bool) string {
	n, _ := strconv.Atoi(width)
	if zero {
		return fmt.Sprintf("%0*d", n, frame)
	}
	return fmt.Sprintf("%*d", n, frame)
}
