package driver

import (
	"strings"
)

// corruptSignatures are the fixed error fragments that indicate a corrupted
// on-disk session rather than a transient or fatal failure. Only these
// trigger the controller's delete-artifact-and-retry path; everything else
// is surfaced for manual retry.
var corruptSignatures = []string{
	"detached",        // session handle detached from the automation target
	"SESSION",         // session lock conflict reported by the platform
	"already running", // a previous browser instance still holds the profile
	"Target closed",   // navigation target closed mid-initialization
}

// IsCorruptSessionError reports whether err matches one of the known
// session-corruption signatures.
func IsCorruptSessionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sig := range corruptSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
