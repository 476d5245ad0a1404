package domain

import "time"

// TimestampLayout — формат таймстемпов в журнале решений: UTC, секундная
// точность, ISO-8601 без дробной части. От формата зависит replay лимитов,
// поэтому он зафиксирован константой, а не «какой получится» time.RFC3339Nano.
const TimestampLayout = "2006-01-02T15:04:05Z"

// LogEntry — неизменяемая запись одного решения авторизации.
// Журнал append-only: записи никогда не правятся и не удаляются, по ним
// аккумулятор трат пересчитывает «сколько уже потрачено» в окне.
type LogEntry struct {
	Timestamp  string         `json:"timestamp"` // См. TimestampLayout
	AgentID    string         `json:"agent_id"`
	ActionType string         `json:"action_type"`
	Params     map[string]any `json:"params"` // Ровно те параметры, что пришли в запросе
	Allowed    bool           `json:"allowed"`
	Reason     string         `json:"reason,omitempty"` // Заполняется только при отказе
}

// NewLogEntry проставляет таймстемп в каноническом формате.
func NewLogEntry(now time.Time, agentID, actionType string, params map[string]any, allowed bool, reason string) LogEntry {
	return LogEntry{
		Timestamp:  now.UTC().Format(TimestampLayout),
		AgentID:    agentID,
		ActionType: actionType,
		Params:     params,
		Allowed:    allowed,
		Reason:     reason,
	}
}

// ParseTimestamp разбирает таймстемп записи. Ошибка означает битую
// историческую запись — вызывающий код обязан трактовать ее как «вне окна».
func (e LogEntry) ParseTimestamp() (time.Time, error) {
	return time.Parse(TimestampLayout, e.Timestamp)
}
