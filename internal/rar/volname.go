package rar

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NextOldVolumeName implements the old-style volume successor rule:
// "name.rar" -> "name.r00" -> "name.r01" -> ... Grounded on the original
// rarfile library's _next_oldvol helper referenced from
// thomas/processors/rar.py.
func NextOldVolumeName(name string) string {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return name
	}

	ext := name[dot+1:]
	if strings.EqualFold(ext, "rar") {
		return name[:dot+1] + "r00"
	}

	if len(ext) < 2 {
		return name
	}

	n, err := strconv.Atoi(ext[len(ext)-2:])
	if err != nil {
		return name
	}

	return fmt.Sprintf("%s%s%02d", name[:dot+1], ext[:len(ext)-2], n+1)
}

// NextNewVolumeName implements the new-style volume successor rule: the
// rightmost run of digits, skipping over any trailing non-digit suffix such
// as ".rar", is incremented as an integer and re-padded to its original
// width (e.g. "name.part01.rar" -> "name.part02.rar", "name.part09.rar" ->
// "name.part10.rar"). Grounded on rarfile's _next_newvol helper.
func NextNewVolumeName(name string) string {
	end := len(name)
	for end > 0 && !isDigit(name[end-1]) {
		end--
	}
	start := end
	for start > 0 && isDigit(name[start-1]) {
		start--
	}
	if start == end {
		return name
	}

	digits := name[start:end]
	n, err := strconv.Atoi(digits)
	if err != nil {
		return name
	}

	next := strconv.Itoa(n + 1)
	for len(next) < len(digits) {
		next = "0" + next
	}

	return name[:start] + next + name[end:]
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

var partVolumeRe = regexp.MustCompile(`(?i)\.part(\d+)\.rar$`)

// IsOldStyleFirstVolume reports whether name is a first-volume candidate
// under the old scheme: ends in .rar and does not match .partNN.rar.
func IsOldStyleFirstVolume(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".rar") && !partVolumeRe.MatchString(name)
}

// NewStyleVolumeNumber returns the part number for a .partNN.rar style
// name, and whether the name matched the pattern at all. The regex here
// fixes the source bug in the distilled reference (an unescaped trailing
// `^` in the original pattern, which anchored the match to the start
// instead of the end and so never matched anything past the first
// character) by anchoring on `$` instead.
func NewStyleVolumeNumber(name string) (int, bool) {
	m := partVolumeRe.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
