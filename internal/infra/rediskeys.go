package infra

// RedisNamespace — базовый префикс для изоляции данных проекта в Redis.
const RedisNamespace = "guardrails"

// Ключи для Sets (состояние)
const (
	RedisKeyBlockedAgents = RedisNamespace + ":agents:blocked_set"
)

// Каналы Pub/Sub (события)
const (
	RedisChanKillSwitch = RedisNamespace + ":agents:kill-switch-signal"
)
