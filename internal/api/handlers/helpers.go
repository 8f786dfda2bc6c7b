package handlers

import "github.com/google/uuid"

// newObjectKey mints a random S3 object key segment.
func newObjectKey() string {
	return uuid.NewString()
}
