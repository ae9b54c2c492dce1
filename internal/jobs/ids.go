package jobs

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// NewID returns a fresh job identifier. It is a single path element and safe
// to use in object keys and directory names.
func NewID() string {
	return uuid.NewString()
}

// DefaultWorkerID is "<hostname>-<pid>". A worker restarted in the same
// container usually gets the same id back and so recovers its own jobs at
// once instead of waiting for their lease to expire.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
