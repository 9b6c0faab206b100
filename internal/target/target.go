// Package target owns the active Docker endpoint and performs the
// handover between endpoints: stop polling, release the old transport,
// clear per-target state, connect the new one, resume polling.
package target

import "fmt"

// Kind says which transport a target uses.
type Kind int

const (
	// KindNone is the zero Target before the first switch.
	KindNone Kind = iota
	KindLocal
	KindRemote
)

// String returns a human-readable kind name.
func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "none"
	}
}

// Target is either the local engine or a saved remote profile.
type Target struct {
	Kind      Kind   `json:"kind"`
	ProfileID string `json:"profile_id,omitempty"`
}

// Local returns the local engine target.
func Local() Target { return Target{Kind: KindLocal} }

// Remote returns the target for a saved profile.
func Remote(profileID string) Target { return Target{Kind: KindRemote, ProfileID: profileID} }

// IsRemote reports whether t goes over SSH.
func (t Target) IsRemote() bool { return t.Kind == KindRemote }

// IsZero reports whether no target has been selected.
func (t Target) IsZero() bool { return t.Kind == KindNone }

func (t Target) String() string {
	if t.Kind == KindRemote {
		return fmt.Sprintf("remote(%s)", t.ProfileID)
	}
	return t.Kind.String()
}
