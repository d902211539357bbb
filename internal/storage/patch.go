package storage

import "github.com/setu/events-api/internal/types"

// PatchColumns lists the columns an EventPatch writes, in a fixed order,
// with their values. updated_at is always last.
func PatchColumns(p types.EventPatch) (cols []string, args []any) {
	if p.Title != nil {
		cols, args = append(cols, "title"), append(args, *p.Title)
	}
	if p.Description != nil {
		cols, args = append(cols, "description"), append(args, *p.Description)
	}
	if p.Date != nil {
		cols, args = append(cols, "date"), append(args, *p.Date)
	}
	if p.ImageURL != nil {
		cols, args = append(cols, "image_url"), append(args, *p.ImageURL)
	}
	if p.MaxCapacity != nil {
		cols, args = append(cols, "max_capacity"), append(args, *p.MaxCapacity)
	}
	if p.Location != nil {
		cols, args = append(cols, "location"), append(args, *p.Location)
	}
	cols, args = append(cols, "updated_at"), append(args, p.UpdatedAt)
	return cols, args
}
