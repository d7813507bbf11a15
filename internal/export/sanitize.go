package export

import (
	"fmt"
	"strings"
	"unicode"
)

const maxFileNameLen = 120

// ValidateFileName checks an output file name against the allow-list:
// letters, digits, spaces, underscore, hyphen and dot, non-empty after
// trimming. Anything else is rejected before any rendering work begins.
func ValidateFileName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: file name is empty", ErrInvalidFileName)
	}
	if len([]rune(trimmed)) > maxFileNameLen {
		return fmt.Errorf("%w: file name longer than %d characters", ErrInvalidFileName, maxFileNameLen)
	}
	for _, r := range trimmed {
		if !isAllowedNameRune(r) {
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidFileName, r)
		}
	}
	return nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.':
		return true
	default:
		return false
	}
}

// SanitizeName converts an arbitrary string into an allow-listed file name,
// replacing disallowed runes with underscores. Used to derive a default
// output name from the project title.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = string(runes[:maxLen])
		}
	}
	return cleaned
}

// withContainerExt strips any known container extension from the name and
// appends the one the active engine produces.
func withContainerExt(name, ext string) string {
	lower := strings.ToLower(name)
	for _, known := range []string{".mp4", ".avi", ".mov"} {
		if strings.HasSuffix(lower, known) {
			name = name[:len(name)-len(known)]
			break
		}
	}
	return name + "." + ext
}
