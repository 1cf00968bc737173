package models

import "strings"

// HomePostID is the partition used for the site root.
const HomePostID = "home"

// PostIDFromPath derives the partition key of a page from its URL path.
// Path separators become underscores, leading and trailing underscores are
// trimmed, and an empty result maps to HomePostID.
func PostIDFromPath(path string) string {
	id := strings.ReplaceAll(path, "/", "_")
	id = strings.Trim(id, "_")
	if id == "" {
		return HomePostID
	}
	return id
}
