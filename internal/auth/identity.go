package auth

// AnonymousID is the identity shared by callers without a valid session.
const AnonymousID = "anonymous"

type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"name,omitempty"`
	Provider    string `json:"provider"`
}

func Anonymous() Identity {
	return Identity{ID: AnonymousID, Provider: "anonymous"}
}

func (i Identity) IsAnonymous() bool { return i.ID == "" || i.ID == AnonymousID }
