package claim

import "realtyclaims/auth"

// RequestContext identifies who is calling a workflow operation. An empty
// ActorID is an anonymous caller.
type RequestContext struct {
	ActorID string
	Role    auth.Role
	Locale  string
}

func (rc RequestContext) IsAdmin() bool {
	return rc.Role == auth.RoleAdmin
}

func (rc RequestContext) actor() *string {
	if rc.ActorID == "" {
		return nil
	}
	id := rc.ActorID
	return &id
}
