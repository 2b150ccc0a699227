package domain

// Session is the authentication state supplied by the auth provider.
type Session struct {
	Authenticated bool   `json:"is_authenticated"`
	Token         string `json:"-"`
	UserID        string `json:"user_id,omitempty"`
}

// Anonymous is the guest session.
var Anonymous = Session{}

// Identity is the key whose change invalidates a loaded cart.
// Guests all share the empty identity.
func (s Session) Identity() string {
	if !s.Authenticated {
		return ""
	}
	return s.UserID
}

// CartState is the lifecycle state of a cart store.
type CartState string

const (
	StateUninitialized CartState = "uninitialized"
	StateLoading       CartState = "loading"
	StateReady         CartState = "ready"
	StateDegraded      CartState = "degraded" // Server unreachable, serving the local copy
)

// CartView is the read-only snapshot handed to the UI.
type CartView struct {
	Lines         []CartLine `json:"lines"`
	Totals        Totals     `json:"totals"`
	State         CartState  `json:"state"`
	Degraded      bool       `json:"degraded"`
	LoadError     string     `json:"load_error,omitempty"`
	Authenticated bool       `json:"is_authenticated"`
	UserID        string     `json:"user_id,omitempty"`
}
