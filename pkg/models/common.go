package models

// APIError represents a standard API error response.
type APIError struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// TriggerRequest is the admin request body for an on-demand backup.
type TriggerRequest struct {
	ClientID   string `json:"clientId"`
	BackupName string `json:"backupName"`
}

// TriggerResponse is returned when a triggered backup completed successfully.
type TriggerResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId,omitempty"`
}

// RunningResponse lists the backup names with an in-flight trigger for one client.
type RunningResponse struct {
	ClientID string   `json:"clientId"`
	Running  []string `json:"running"`
}
