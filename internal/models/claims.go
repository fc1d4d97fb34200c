package models

// Claims are the validated fields of a control-plane bearer token. Token
// issuance is an external concern; this service only verifies.
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
}
