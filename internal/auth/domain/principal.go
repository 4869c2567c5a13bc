package domain

// Principal is the authenticated identity produced by token validation or a
// code exchange. Only Subject is guaranteed to be set.
type Principal struct {
	Subject    string `json:"subject"`
	Email      string `json:"email,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	IsAdmin    bool   `json:"is_admin"`
}

// DisplayName joins the name fragments, falling back to email then subject.
func (p Principal) DisplayName() string {
	switch {
	case p.GivenName != "" && p.FamilyName != "":
		return p.GivenName + " " + p.FamilyName
	case p.GivenName != "":
		return p.GivenName
	case p.FamilyName != "":
		return p.FamilyName
	case p.Email != "":
		return p.Email
	default:
		return p.Subject
	}
}
