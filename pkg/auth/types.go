// Package auth carries the authentication context for Warden requests:
// the authenticated Principal and bearer-token validation.
package auth

// Principal is the interface for any entity making a request
// (user, service account, system).
type Principal interface {
	GetID() string
	GetTenantID() string
	GetRoles() []string
}

// BasePrincipal is a simple implementation of Principal.
type BasePrincipal struct {
	ID       string
	TenantID string
	Roles    []string
}

func (b *BasePrincipal) GetID() string { return b.ID }

func (b *BasePrincipal) GetTenantID() string { return b.TenantID }

func (b *BasePrincipal) GetRoles() []string { return b.Roles }
