// Package session is the boundary to the app's authenticated-session
// provider. The chat core only needs the signed-in identity and the
// bearer credential; acquiring and refreshing them is the host app's
// concern.
package session

// Session supplies the signed-in identity for the socket handshake and
// the bearer credential for REST calls.
type Session interface {
	UserID() string
	Token() string
}

// Static is a fixed session, enough for the devserver's bearer scheme
// and for tests.
type Static struct {
	userID string
	token  string
}

func NewStatic(userID, token string) *Static {
	return &Static{userID: userID, token: token}
}

func (s *Static) UserID() string { return s.userID }
func (s *Static) Token() string  { return s.token }
