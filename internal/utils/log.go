package utils

import (
	"fmt"
	"strings"
)

// TruncateForLog puts s on one line and keeps at most limit runes of it, so a
// greeting draft or a model reply stays readable in the log. The suffix
// counts the runes that were cut. A non-positive limit hides s entirely.
func TruncateForLog(s string, limit int) string {
	if limit <= 0 {
		return ""
	}

	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) <= limit {
		return string(runes)
	}
	return fmt.Sprintf("%s…(+%d)", string(runes[:limit]), len(runes)-limit)
}
