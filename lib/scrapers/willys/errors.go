package willys

import "errors"

var (
	// an expected control did not show up or respond within budget,
	// usually the portal changed its markup
	ErrAutomation = errors.New("login automation failed")
	// the bankid challenge was not completed before the deadline
	ErrAuthTimeout = errors.New("bankid challenge timed out")
	// no stored session and none obtainable without a login
	ErrSessionMissing = errors.New("no session available for identity")
	// got HTML where JSON was expected, the session has most likely
	// been invalidated and the portal redirected to a login page
	ErrUpstreamFormat = errors.New("expected json, got html")
)
