// utils/utils.go

package utils

import (
	"strings"

	"github.com/google/uuid"
)

func GenerateUUIDString() string {
	id := uuid.New()
	return id.String()
}

var keyReplacer = strings.NewReplacer(".", "_", "#", "_", "$", "_", "/", "_", "[", "_", "]", "_")

// SanitizeKey makes a display name usable as a single store path segment.
func SanitizeKey(name string) string {
	return keyReplacer.Replace(name)
}
