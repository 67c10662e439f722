package model

// Employer is one row of the employer equity roster.
type Employer struct {
	Constituency string `json:"constituency"`
	Organization string `json:"organization"`
	Municipality string `json:"municipality"`
	PostalCode   string `json:"postal_code,omitempty"`
	Email        string `json:"email,omitempty"`
}
