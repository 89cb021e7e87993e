package google

import (
	"strings"
)

// eventIDSet collects the event ids of column A, skipping the header and
// blank cells.
func eventIDSet(col []string) map[string]struct{} {
	ids := make(map[string]struct{}, len(col))
	for i, v := range col {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if i == 0 && strings.EqualFold(v, "event") {
			continue
		}
		ids[v] = struct{}{}
	}
	return ids
}
