package domain

// HandleKind tags an encrypted handle with the plaintext type it hides.
type HandleKind string

const (
	HandleUint64 HandleKind = "uint64"
	HandleBool   HandleKind = "bool"
)

// Handle is an opaque reference to a value held by the confidentiality
// gateway. The ledger never sees the plaintext behind a handle; all
// computation on handles is routed through the Gateway interface, and the
// only way to obtain the plaintext is the two-phase request/poll decrypt
// protocol.
type Handle struct {
	ID   string     `json:"id"`
	Kind HandleKind `json:"kind"`
}

// Uint64Handle returns a Handle referencing an encrypted uint64.
func Uint64Handle(id string) Handle {
	return Handle{ID: id, Kind: HandleUint64}
}

// BoolHandle returns a Handle referencing an encrypted bool.
func BoolHandle(id string) Handle {
	return Handle{ID: id, Kind: HandleBool}
}

// IsZero reports whether the handle is unset.
func (h Handle) IsZero() bool {
	return h.ID == ""
}
