package cache

import (
	"sort"
	"strings"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

// Payload shaping is specific to the todo-collection namespace: before a
// collection is cached, long descriptions are truncated and tag arrays are
// normalized so entries stay small. Single-entity and session namespaces
// are stored as-is.
const maxCachedDescriptionRunes = 500

func ShapeCollection(records []*types.TodoRecord) []*types.TodoRecord {
	shaped := make([]*types.TodoRecord, 0, len(records))
	for _, rec := range records {
		shaped = append(shaped, shapeRecord(rec))
	}
	return shaped
}

func shapeRecord(rec *types.TodoRecord) *types.TodoRecord {
	clone := rec.Clone()
	clone.Description = utils.TruncateRunes(clone.Description, maxCachedDescriptionRunes)
	clone.Tags = normalizeTags(clone.Tags)
	return clone
}

func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(tags))
	normalized := make([]string, 0, len(tags))

	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		normalized = append(normalized, tag)
	}

	if len(normalized) == 0 {
		return nil
	}

	sort.Strings(normalized)
	return normalized
}
