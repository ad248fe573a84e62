package protocol

// TargetKind distinguishes the three kinds of dispatch target.
type TargetKind uint8

const (
	TargetSession TargetKind = iota
	TargetSystem
	TargetWildcard
)

// Target names who an envelope is for on the client side. It is comparable
// and used as a map key, so a session can never be confused with the system
// or wildcard subscriptions.
type Target struct {
	Kind TargetKind
	ID   string // set only for TargetSession
}

var (
	System   = Target{Kind: TargetSystem}
	Wildcard = Target{Kind: TargetWildcard}
)

// Session returns the target for one session id.
func Session(id string) Target {
	return Target{Kind: TargetSession, ID: id}
}

// ParseTarget maps a wire session id to a target. The empty id addresses
// the channel. The wildcard is a local subscription only, so "*" on the
// wire is an ordinary session id.
func ParseTarget(id string) Target {
	if id == "" || id == SystemID {
		return System
	}
	return Session(id)
}

func (t Target) String() string {
	switch t.Kind {
	case TargetSystem:
		return SystemID
	case TargetWildcard:
		return WildcardID
	}
	return t.ID
}
