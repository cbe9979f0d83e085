package types

// Notification represents a notification message structure
type Notification struct {
	Type    string         `json:"type,omitempty"`    // Notification type, e.g. "session_state", "rebuild_progress"
	Title   string         `json:"title,omitempty"`   // Notification title
	Message string         `json:"message,omitempty"` // Notification message/content
	Data    map[string]any `json:"data,omitempty"`    // Additional data fields
}

const (
	NotifyTypeSessionState      = "session_state"
	NotifyTypeRebuildProgress   = "rebuild_progress"
	NotifyTypePermissionRequest = "permission_request"
	NotifyTypeSessionClosed     = "session_closed"
)
