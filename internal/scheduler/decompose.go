package scheduler

import "strings"

// subTaskCutset is stripped from the left of every matched line to
// produce the sub-task text. Deliberately includes the list-marker
// punctuation so "1. foo", "12. bar" and "- baz" all reduce cleanly.
const subTaskCutset = "-0123456789. "

// SplitSubTasks decomposes a task description into sub-task strings.
// The decomposition is syntactic and deterministic: the description is
// split on newlines, each line is whitespace-trimmed, and a line counts
// as a sub-task when it starts with "-", begins with one or two decimal
// digits, or begins with the case-insensitive prefix "task". The
// sub-task text is the line with that prefix and any leading
// "-0123456789. " characters removed; lines that reduce to nothing are
// dropped. An empty result means the job is a leaf.
func SplitSubTasks(description string) []string {
	var subTasks []string

	for _, raw := range strings.Split(description, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		rest, ok := matchSubTask(line)
		if !ok {
			continue
		}

		text := strings.TrimLeft(rest, subTaskCutset)
		if text == "" {
			continue
		}
		subTasks = append(subTasks, text)
	}

	return subTasks
}

func matchSubTask(line string) (string, bool) {
	if strings.HasPrefix(line, "-") {
		return line, true
	}
	// Enumerated list markers: a run of exactly one or two digits. Three
	// or more leading digits reads as data, not a marker.
	if n := leadingDigits(line); n == 1 || n == 2 {
		return line, true
	}
	if len(line) >= 4 && strings.EqualFold(line[:4], "task") {
		return line[4:], true
	}
	return "", false
}

func leadingDigits(line string) int {
	n := 0
	for n < len(line) && line[n] >= '0' && line[n] <= '9' {
		n++
	}
	return n
}
