package metadata

// ActorKey is the metadata key holding the acting user's id.
const ActorKey = "sub"

// AuthContext is the per-request bag of auth metadata, set by the auth
// middleware. Values are scalars or arrays; scoping keys (e.g. tenant ids)
// sit next to the actor id.
type AuthContext struct {
	Metadata map[string]any
}

// HasValue reports whether the key is present with a non-nil value.
func (a *AuthContext) HasValue(key string) bool {
	if a == nil || a.Metadata == nil {
		return false
	}
	v, ok := a.Metadata[key]
	return ok && v != nil
}

// Values returns the metadata value for key as a slice; scalars are
// promoted to a one-element slice. "Any of"/IN semantics apply downstream.
func (a *AuthContext) Values(key string) []any {
	if !a.HasValue(key) {
		return nil
	}
	switch v := a.Metadata[key].(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// ActorID returns the acting user's id, or "" when unauthenticated.
func (a *AuthContext) ActorID() string {
	if !a.HasValue(ActorKey) {
		return ""
	}
	if s, ok := a.Metadata[ActorKey].(string); ok {
		return s
	}
	return ""
}
