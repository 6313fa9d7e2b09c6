package cache

import "fmt"

// Cache key namespacing convention. Handlers must build keys through
// these helpers so pattern-based invalidation lines up:
//
//	entities:      {kind}:{id}:{attribute}
//	query results: {kind}:query:{serializedQuery}

// EntityKey builds the cache key for one attribute of an entity
func EntityKey(kind, id, attribute string) string {
	return fmt.Sprintf("%s:%s:%s", kind, id, attribute)
}

// QueryKey builds the cache key for a serialized query result
func QueryKey(kind, serializedQuery string) string {
	return fmt.Sprintf("%s:query:%s", kind, serializedQuery)
}

// EntityPattern matches every cached attribute of one entity
func EntityPattern(kind, id string) string {
	return fmt.Sprintf("%s:%s:*", kind, id)
}

// QueryPattern matches every cached query result for a kind
func QueryPattern(kind string) string {
	return fmt.Sprintf("%s:query:*", kind)
}

// KindPattern matches every cached key of a kind
func KindPattern(kind string) string {
	return fmt.Sprintf("%s:*", kind)
}

// CategoryOf builds the TTL category for an entity attribute,
// e.g. CategoryOf("user", "profile") -> "user:profile"
func CategoryOf(kind, attribute string) string {
	return fmt.Sprintf("%s:%s", kind, attribute)
}
