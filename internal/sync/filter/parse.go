package filter

import (
	"bufio"
	"strings"
)

// ParsePatterns reads one pattern per line. Lines starting with "!" are
// excludes, "#" starts a comment and blank lines are ignored.
func ParsePatterns(text string) (Spec, error) {
	var spec Spec
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if pattern, ok := strings.CutPrefix(line, "!"); ok {
			if err := validate(pattern); err != nil {
				return Spec{}, err
			}
			spec.Exclude = append(spec.Exclude, pattern)
			continue
		}
		if err := validate(line); err != nil {
			return Spec{}, err
		}
		spec.Include = append(spec.Include, line)
	}
	return spec, scanner.Err()
}

// ParseExtensions reads a comma separated extension list such as
// "txt,md,!tmp". Each extension matches at any depth.
func ParseExtensions(list string) (Spec, error) {
	var spec Spec
	for _, ext := range strings.Split(list, ",") {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		exclude := false
		if rest, ok := strings.CutPrefix(ext, "!"); ok {
			ext, exclude = rest, true
		}
		pattern := "**/*." + strings.TrimPrefix(ext, ".")
		if err := validate(pattern); err != nil {
			return Spec{}, err
		}
		if exclude {
			spec.Exclude = append(spec.Exclude, pattern)
		} else {
			spec.Include = append(spec.Include, pattern)
		}
	}
	return spec, nil
}

// Merge appends the patterns of other to s. Size bounds in other win when set.
func (s Spec) Merge(other Spec) Spec {
	out := Spec{
		Include: append(append([]string(nil), s.Include...), other.Include...),
		Exclude: append(append([]string(nil), s.Exclude...), other.Exclude...),
		MinSize: s.MinSize,
		MaxSize: s.MaxSize,
	}
	if other.MinSize != nil {
		out.MinSize = other.MinSize
	}
	if other.MaxSize != nil {
		out.MaxSize = other.MaxSize
	}
	return out
}
