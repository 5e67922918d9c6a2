package task

import "sort"

// Flatten normalises a possibly nested output collection into a flat path
// list. Upstream engines may report outputs as a plain list, a list of
// per-branch lists, or a map keyed by branch index; all shapes collapse to
// the contained path strings. Order follows the input traversal order so
// that flattening is deterministic for deterministic inputs.
func Flatten(output interface{}) []string {
	var paths []string
	flattenInto(output, &paths)
	return paths
}

func flattenInto(node interface{}, paths *[]string) {
	switch actual := node.(type) {
	case nil:
	case string:
		if actual != "" {
			*paths = append(*paths, actual)
		}
	case []string:
		for _, p := range actual {
			if p != "" {
				*paths = append(*paths, p)
			}
		}
	case [][]string:
		for _, nested := range actual {
			flattenInto(nested, paths)
		}
	case []interface{}:
		for _, nested := range actual {
			flattenInto(nested, paths)
		}
	case map[int][]string:
		// branch-indexed collections flatten in ascending branch order
		indexes := make([]int, 0, len(actual))
		for index := range actual {
			indexes = append(indexes, index)
		}
		sort.Ints(indexes)
		for _, index := range indexes {
			flattenInto(actual[index], paths)
		}
	}
}
