package cache

import (
	"fmt"
	"time"
)

// Key namespaces are a stable contract: the sync engine, the stats reader
// and the evictor all compose and match against these shapes. A pattern
// delete on one namespace must never touch another, so every builder
// includes its full prefix.
const (
	NamespaceUserTodos = "todos:user"
	NamespaceUserStats = "stats:user"
	NamespaceTodo      = "todo"
	NamespaceSession   = "session"
	NamespaceActivity  = "activity:user"
	NamespaceRateLimit = "ratelimit"
)

const (
	TTLUserTodos = 300 * time.Second
	TTLUserStats = 300 * time.Second
	TTLTodo      = 300 * time.Second
	TTLSession   = 86400 * time.Second
	TTLActivity  = 1800 * time.Second
)

func UserTodosKey(ownerID string) string {
	return fmt.Sprintf("%s:%s", NamespaceUserTodos, ownerID)
}

func UserStatsKey(ownerID string) string {
	return fmt.Sprintf("%s:%s", NamespaceUserStats, ownerID)
}

func TodoKey(id string) string {
	return fmt.Sprintf("%s:%s", NamespaceTodo, id)
}

func SessionKey(sessionID string) string {
	return fmt.Sprintf("%s:%s", NamespaceSession, sessionID)
}

func ActivityKey(ownerID string) string {
	return fmt.Sprintf("%s:%s", NamespaceActivity, ownerID)
}

func RateLimitKey(identifier string) string {
	return fmt.Sprintf("%s:%s", NamespaceRateLimit, identifier)
}

func UserTodosPattern() string {
	return NamespaceUserTodos + ":*"
}

func UserStatsPattern() string {
	return NamespaceUserStats + ":*"
}

func ActivityPattern() string {
	return NamespaceActivity + ":*"
}
