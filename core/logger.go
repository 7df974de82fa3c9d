package core

// Logger is implemented by services/logger.
// expected args: error, map[string]interface{}, Identity (at most one, attached as the reporting person)
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID int    `json:"user_id"`
	Role   string `json:"role"`
	Email  string `json:"email,omitempty"`
}

const (
	RoleStudent  = "student"
	RoleLecturer = "lecturer"
	RoleAdmin    = "admin"
)

func (id Identity) IsAdmin() bool { return id.Role == RoleAdmin }
