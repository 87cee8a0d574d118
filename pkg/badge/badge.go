// Package badge resolves the public build status of a project to one of a
// fixed set of badge keys and serves the matching SVG.
package badge

import "github.com/phpci/buildstatus/pkg/ci"

// Key selects a static status badge.
type Key string

const (
	KeyPending Key = "pending-blue"
	KeyRunning Key = "running-yellow"
	KeyPassing Key = "passing-green"
	KeyFailed  Key = "failed-red"
	KeyError   Key = "error-red"
	KeyNew     Key = "new-lightgrey"
)

// NoStatus is returned with ok=false when a project's status is not public.
const NoStatus Key = ""

// Keys lists every badge key that has an asset.
var Keys = []Key{KeyPending, KeyRunning, KeyPassing, KeyFailed, KeyError, KeyNew}

// Valid reports whether k is one of Keys.
func (k Key) Valid() bool {
	for _, known := range Keys {
		if k == known {
			return true
		}
	}
	return false
}

func (k Key) String() string { return string(k) }

// ForStatus maps a persisted build status to its badge key.
func ForStatus(status ci.BuildStatus) Key {
	switch status {
	case ci.StatusPending:
		return KeyPending
	case ci.StatusRunning:
		return KeyRunning
	case ci.StatusSuccess:
		return KeyPassing
	case ci.StatusFailed:
		return KeyFailed
	default:
		return KeyError
	}
}
