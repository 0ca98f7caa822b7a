package extractor

import "errors"

var (
	// ErrSessionExpired means the site served its login form instead of data.
	ErrSessionExpired = errors.New("session expired")
	// ErrElementNotFound means the value element is not in the DOM.
	ErrElementNotFound = errors.New("element not found")
	// ErrTransientDOMState means the page is not usable yet: the element is
	// empty, the page failed to load, or the HTML could not be parsed.
	ErrTransientDOMState = errors.New("transient dom state")
)
