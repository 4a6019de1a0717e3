package auth

import "context"

// Resource and action names used by the ingress permission checks.
const (
	ResourceScenarios = "scenarios"
	ResourceOutbox    = "outbox"

	ActionCreate     = "create"
	ActionRead       = "read"
	ActionTransition = "transition"
	ActionDelete     = "delete"
	ActionOperate    = "operate"
)

// Authorizer is the permission-check boundary consumed by the ingress layer.
type Authorizer interface {
	Authorize(ctx context.Context, actor Actor, resource, action string) bool
}

// RoleAuthorizer grants permissions from a static role/action table.
type RoleAuthorizer struct{}

func NewRoleAuthorizer() *RoleAuthorizer {
	return &RoleAuthorizer{}
}

var rolePermissions = map[Role]map[string]map[string]bool{
	RoleAnalyst: {
		ResourceScenarios: {ActionCreate: true, ActionRead: true, ActionTransition: true},
	},
	RoleService: {
		ResourceScenarios: {ActionRead: true, ActionTransition: true},
	},
	RoleAdmin: {
		ResourceScenarios: {ActionCreate: true, ActionRead: true, ActionTransition: true, ActionDelete: true},
		ResourceOutbox:    {ActionRead: true, ActionOperate: true},
	},
}

// Authorize reports whether the actor's role permits the action on the resource.
func (a *RoleAuthorizer) Authorize(ctx context.Context, actor Actor, resource, action string) bool {
	if !isValidRole(actor.Role) {
		return false
	}
	return rolePermissions[actor.Role][resource][action]
}
