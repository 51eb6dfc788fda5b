package chat

// Role tags an in-memory history entry.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// HistoryEntry is one exchange kept in a session's in-memory history.
// TurnID is empty when the text never made it into the store.
type HistoryEntry struct {
	TurnID string `json:"turnId,omitempty"`
	Role   Role   `json:"role"`
	Text   string `json:"text"`
}
