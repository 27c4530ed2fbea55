package catalog

// ExpectedVariants returns the size of the Cartesian product of the axes'
// option lists. Zero axes count as one implicit variant; any axis with no
// options zeroes the whole product.
func ExpectedVariants(axes []AttributeAxis) int {
	count := 1
	for _, axis := range axes {
		count *= len(axis.Options)
	}
	return count
}

// Enumerate produces every selectable combination of the given axes as
// variant keys, preserving axis order within each key. The last axis varies
// fastest, and re-enumerating the same axes yields the same keys in the
// same order. Zero axes yield exactly one key with no selections.
func Enumerate(productURL string, axes []AttributeAxis) []VariantKey {
	total := ExpectedVariants(axes)
	keys := make([]VariantKey, 0, total)
	if total == 0 {
		return keys
	}

	indices := make([]int, len(axes))
	for {
		selections := make([]Selection, len(axes))
		for i, axis := range axes {
			selections[i] = Selection{Axis: axis.Name, Value: axis.Options[indices[i]]}
		}
		if len(axes) == 0 {
			selections = nil
		}
		keys = append(keys, VariantKey{ProductURL: productURL, Selections: selections})

		// Advance odometer-style, rightmost position first.
		pos := len(axes) - 1
		for pos >= 0 {
			indices[pos]++
			if indices[pos] < len(axes[pos].Options) {
				break
			}
			indices[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}

	return keys
}
