package jobs

import (
	"net/http"
	"strings"
)

// ParseRoute extracts the draft ID and action from a URL path like
// /api/drafts/{id}/{action}. apiPrefix should be like "/api/drafts/".
// Returns empty strings if the path does not carry both segments.
func ParseRoute(path, apiPrefix string) (draftID, action string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(path, apiPrefix), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// CheckOwnership verifies the ownerId query param matches the draft's owner.
// The API treats an ownership mismatch the same as a missing draft.
func CheckOwnership(r *http.Request, draftOwnerID string) bool {
	ownerID := r.URL.Query().Get("ownerId")
	return ownerID != "" && ownerID == draftOwnerID
}
