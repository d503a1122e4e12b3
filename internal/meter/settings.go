package meter

// Settings drives scheduling: the user-defined source ordering and the
// disabled subset. Persistence of settings is an external concern; this core
// only reads them.
type Settings struct {
	Order    []SourceID
	Disabled map[SourceID]bool
}

// Normalize returns a copy of the settings restricted to known ids: Order
// keeps each known id at most once in its first position, and Disabled drops
// ids that are unknown or absent from Order. Unknown ids are dropped, never
// retained.
func (s Settings) Normalize(known map[SourceID]bool) Settings {
	out := Settings{Disabled: map[SourceID]bool{}}
	seen := map[SourceID]bool{}
	for _, id := range s.Order {
		if !known[id] || seen[id] {
			continue
		}
		seen[id] = true
		out.Order = append(out.Order, id)
	}
	for id, off := range s.Disabled {
		if off && seen[id] {
			out.Disabled[id] = true
		}
	}
	return out
}

// Enabled returns Order minus Disabled, preserving order.
func (s Settings) Enabled() []SourceID {
	var ids []SourceID
	for _, id := range s.Order {
		if s.Disabled[id] {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// IsEnabled reports whether id appears in Order and is not disabled.
func (s Settings) IsEnabled(id SourceID) bool {
	if s.Disabled[id] {
		return false
	}
	for _, candidate := range s.Order {
		if candidate == id {
			return true
		}
	}
	return false
}
