package auth

import (
	"time"
)

// Credentials are the login inputs. They are never written anywhere.
type Credentials struct {
	Email    string
	Password string
}

// Empty reports whether either field is missing.
func (c Credentials) Empty() bool {
	return c.Email == "" || c.Password == ""
}

// Cookie is one session cookie as handed to the browser.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
}

// Session is the authenticated browser state. It is replaced as a whole on
// re-authentication and never edited in place.
type Session struct {
	Cookies  []Cookie
	IssuedAt time.Time
}

// Valid reports whether the session carries at least one cookie.
func (s *Session) Valid() bool {
	return s != nil && len(s.Cookies) > 0
}

// Names returns the cookie names, for logging without leaking values.
func (s *Session) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Cookies))
	for _, c := range s.Cookies {
		names = append(names, c.Name)
	}
	return names
}
