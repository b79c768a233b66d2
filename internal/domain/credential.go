package domain

import (
	"crypto/subtle"
	"strings"
)

// CredentialKind tags which proof of ownership a caller presented.
type CredentialKind int

const (
	// CredentialNone means neither an edit token nor a user id was supplied.
	CredentialNone CredentialKind = iota
	// CredentialToken carries a profile edit token.
	CredentialToken
	// CredentialUser carries a claimed author id.
	CredentialUser
	// CredentialBoth carries both; either may authorize.
	CredentialBoth
)

// String implements fmt.Stringer.
func (k CredentialKind) String() string {
	switch k {
	case CredentialToken:
		return "token"
	case CredentialUser:
		return "user"
	case CredentialBoth:
		return "both"
	default:
		return "none"
	}
}

// Credential is the resolved authorization input of a mutating request.
// Build it with NewCredential; the zero value authorizes nothing.
type Credential struct {
	kind   CredentialKind
	token  string
	userID string
}

// NewCredential resolves the two optional request fields into a tagged
// credential. Nil and blank values count as absent.
func NewCredential(token, userID *string) Credential {
	var c Credential
	if token != nil && strings.TrimSpace(*token) != "" {
		c.token = *token
		c.kind = CredentialToken
	}
	if userID != nil && strings.TrimSpace(*userID) != "" {
		c.userID = strings.TrimSpace(*userID)
		if c.kind == CredentialToken {
			c.kind = CredentialBoth
		} else {
			c.kind = CredentialUser
		}
	}
	return c
}

// Kind returns the credential tag.
func (c Credential) Kind() CredentialKind { return c.kind }

// Token returns the edit token, if the credential carries one.
func (c Credential) Token() (string, bool) {
	return c.token, c.kind == CredentialToken || c.kind == CredentialBoth
}

// UserID returns the claimed author id, if the credential carries one.
func (c Credential) UserID() (string, bool) {
	return c.userID, c.kind == CredentialUser || c.kind == CredentialBoth
}

// Authorizes reports whether c grants mutation rights over reply, given the
// profile named by the request. Either match is sufficient:
//
//   - the token equals the profile's edit token and reply belongs to profile;
//   - the user id equals the reply's author.
//
// Absent profile, reply, or edit token never match.
func (c Credential) Authorizes(profile *Profile, reply *Reply) bool {
	if tok, ok := c.Token(); ok && profile != nil && profile.EditToken != nil && reply != nil {
		if reply.ProfileID == profile.ID &&
			subtle.ConstantTimeCompare([]byte(tok), []byte(*profile.EditToken)) == 1 {
			return true
		}
	}
	if uid, ok := c.UserID(); ok && reply != nil && reply.UserID == uid {
		return true
	}
	return false
}
