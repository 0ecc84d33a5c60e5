package guardrail

// Key is a typed handle into a request context's metadata side-table.
// Modules declare package-level keys for their private carryover state
// (e.g. a substitution table produced during pre_request and consumed during
// post_response). The type parameter makes lookups compile-time safe: a key
// can never yield a value of the wrong type.
type Key[T any] struct {
	name string
}

// NewKey creates a metadata key. The name must be unique per module; the
// convention is "<module>.<field>".
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Set stores a value under the key in the request's metadata. The metadata
// lives and dies with the request context; it is never shared across
// requests.
func Set[T any](c *Context, k Key[T], v T) {
	if c.meta == nil {
		c.meta = make(map[string]any)
	}
	c.meta[k.name] = v
}

// Get retrieves the value stored under the key, reporting whether it was
// present.
func Get[T any](c *Context, k Key[T]) (T, bool) {
	if c.meta != nil {
		if v, ok := c.meta[k.name]; ok {
			if t, ok := v.(T); ok {
				return t, true
			}
		}
	}
	var zero T
	return zero, false
}
