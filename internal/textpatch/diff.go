package textpatch

// Diff describes the transformation of oldBuffer into newBuffer as patches in
// oldBuffer coordinates, so Apply(oldBuffer, Diff(oldBuffer, newBuffer)) always
// yields newBuffer.
//
// This is a single forward scan, not a minimal edit script. When both buffers
// have the same length every run of positionally differing characters becomes
// one Replace, so several disjoint patches can come out of one call. When the
// lengths differ the common prefix and the common suffix are trimmed and the
// middle becomes a single Insert, Delete or Replace. Moved or transposed text
// is reported as a Replace of the whole affected span.
func Diff(oldBuffer, newBuffer string) []Patch {
	if oldBuffer == newBuffer {
		return nil
	}
	oldRunes := []rune(oldBuffer)
	newRunes := []rune(newBuffer)

	if len(oldRunes) == len(newRunes) {
		return alignedRuns(oldRunes, newRunes)
	}

	prefix := commonPrefix(oldRunes, newRunes)
	suffix := commonSuffix(oldRunes[prefix:], newRunes[prefix:])
	oldSpan := oldRunes[prefix : len(oldRunes)-suffix]
	newSpan := newRunes[prefix : len(newRunes)-suffix]

	switch {
	case len(oldSpan) == 0:
		return []Patch{InsertAt(prefix, string(newSpan))}
	case len(newSpan) == 0:
		return []Patch{DeleteAt(prefix, len(oldSpan))}
	default:
		return []Patch{ReplaceAt(prefix, len(oldSpan), string(newSpan))}
	}
}

func alignedRuns(oldRunes, newRunes []rune) []Patch {
	var patches []Patch
	for i := 0; i < len(oldRunes); {
		if oldRunes[i] == newRunes[i] {
			i++
			continue
		}
		j := i
		for j < len(oldRunes) && oldRunes[j] != newRunes[j] {
			j++
		}
		patches = append(patches, ReplaceAt(i, j-i, string(newRunes[i:j])))
		i = j
	}
	return patches
}

func commonPrefix(a, b []rune) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}

func commonSuffix(a, b []rune) int {
	n := 0
	for n < len(a) && n < len(b) && a[len(a)-1-n] == b[len(b)-1-n] {
		n++
	}
	return n
}
