package domain

import "fmt"

// ProviderError carries an application error reported by a provider inside a reply.
type ProviderError struct {
	Identity Identity
	Detail   string
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Identity == "" {
		return fmt.Sprintf("provider error: %s", e.Detail)
	}
	return fmt.Sprintf("provider %s error: %s", e.Identity, e.Detail)
}
