package inspection

import (
	"strconv"
	"strings"
)

const maxPageLimit = 500

// DefaultOfficeTimelineLimit is the page size a caller should use when it
// omits an explicit limit for the office timeline.
func DefaultOfficeTimelineLimit() int {
	return officeTimelineDefaultLimit
}

// Page is the paginated slice of a timeline returned to a caller, along
// with the opaque cursor needed to fetch the next one.
type Page struct {
	Items      []TimelineEntry `json:"items"`
	Cursor     string          `json:"cursor"`
	NextCursor *string         `json:"next_cursor"`
	Total      int             `json:"total"`
}

// Paginate slices timeline starting at the offset cursor encodes,
// clamping limit to [1,500]. The cursor is just the decimal offset as a
// string; an empty or unparseable cursor starts from zero.
func Paginate(timeline []TimelineEntry, limit int, cursor string) Page {
	pageLimit := limit
	if pageLimit < 1 {
		pageLimit = 1
	}
	if pageLimit > maxPageLimit {
		pageLimit = maxPageLimit
	}

	start := 0
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if n, err := strconv.Atoi(trimmed); err == nil && n > 0 {
			start = n
		}
	}
	if start > len(timeline) {
		start = len(timeline)
	}

	end := start + pageLimit
	if end > len(timeline) {
		end = len(timeline)
	}

	var next *string
	if end < len(timeline) {
		s := strconv.Itoa(end)
		next = &s
	}

	items := make([]TimelineEntry, end-start)
	copy(items, timeline[start:end])

	return Page{
		Items:      items,
		Cursor:     strconv.Itoa(start),
		NextCursor: next,
		Total:      len(timeline),
	}
}

// EntityTimeline filters timeline to entries that reference entityID.
func EntityTimeline(timeline []TimelineEntry, entityID string) []TimelineEntry {
	entityID = strings.ToLower(strings.TrimSpace(entityID))
	filtered := make([]TimelineEntry, 0, len(timeline))
	for _, entry := range timeline {
		if containsID(entry.EntityIDs, entityID) {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
