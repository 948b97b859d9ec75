package models

// Principal is the identity that initiated an execution. It is stored on the
// execution row and passed through to remote connectors as acting-user
// headers; the engine itself never authorizes against it.
type Principal struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}
