package textpatch

import "sort"

// Sorted returns a copy of patches in application order: descending position,
// ties keep their submission order.
func Sorted(patches []Patch) []Patch {
	ordered := make([]Patch, len(patches))
	copy(ordered, patches)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Position > ordered[j].Position
	})
	return ordered
}

// Apply applies patches to buffer in descending position order so that an edit
// never shifts the offsets of the edits still to be applied.
//
// Out-of-range offsets are clamped to the buffer rather than rejected: the
// position is clamped into [0, len], the end of a Delete or Replace into
// [position, len], and a negative length counts as zero. Patches of unknown
// kind are skipped.
func Apply(buffer string, patches []Patch) string {
	if len(patches) == 0 {
		return buffer
	}
	runes := []rune(buffer)
	for _, patch := range Sorted(patches) {
		runes = applyOne(runes, patch)
	}
	return string(runes)
}

func applyOne(runes []rune, patch Patch) []rune {
	start := clamp(patch.Position, 0, len(runes))
	switch patch.Kind {
	case Insert:
		return splice(runes, start, start, patch.Text)
	case Delete:
		return splice(runes, start, spanEnd(start, patch.Length, len(runes)), "")
	case Replace:
		return splice(runes, start, spanEnd(start, patch.Length, len(runes)), patch.Text)
	default:
		return runes
	}
}

func splice(runes []rune, start, end int, text string) []rune {
	inserted := []rune(text)
	out := make([]rune, 0, len(runes)-(end-start)+len(inserted))
	out = append(out, runes[:start]...)
	out = append(out, inserted...)
	out = append(out, runes[end:]...)
	return out
}

func spanEnd(start, length, size int) int {
	if length < 0 {
		return start
	}
	if length > size-start {
		return size
	}
	return start + length
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}
