package pipeline

// NewlyAdded returns the ids present in after but absent from before, in the
// order they appear in after. A nil list is treated as empty.
func NewlyAdded(before, after []string) []string {
	if len(after) == 0 {
		return nil
	}
	existing := make(map[string]struct{}, len(before))
	for _, id := range before {
		existing[id] = struct{}{}
	}

	var added []string
	for _, id := range after {
		if _, ok := existing[id]; ok {
			continue
		}
		added = append(added, id)
	}
	return added
}
