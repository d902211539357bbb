package auth

import "github.com/setu/events-api/internal/types"

// Authorize reports whether the identity holds one of the allowed roles.
func Authorize(id types.Identity, allowed ...types.Role) bool {
	for _, candidate := range allowed {
		if id.Role == candidate {
			return true
		}
	}
	return false
}
