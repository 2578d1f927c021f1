// Package profile defines named capture profiles: the bundle of event
// providers and classification tokens for one kind of firewall trace.
package profile

// Profile bundles everything that depends on the trace flavor being
// captured: which providers to register against the session and which
// message prefixes mark an allow or a block decision.
type Profile struct {
	ID         string
	Name       string
	Providers  []string
	AllowToken string
	BlockToken string
}
