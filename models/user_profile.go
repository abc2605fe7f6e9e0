package models

// UserProfile is the sanitized view of an authenticated user returned to clients.
// It never carries credentials.
type UserProfile struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	Tenant      TenantRef `json:"tenant"`
}
