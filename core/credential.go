package core

import "time"

// expirySlack is the minimum remaining lifetime for a token to count as valid.
const expirySlack = 5 * time.Minute

// CredentialBundle is the opaque OAuth material used to authenticate with the
// local tool backend. It mirrors the on-disk credential document and is passed
// through remote delegation untouched.
type CredentialBundle struct {
	ClaudeAiOauth *OAuthCredentials `json:"claudeAiOauth,omitempty"`
}

// OAuthCredentials holds one OAuth token set.
type OAuthCredentials struct {
	AccessToken      string        `json:"accessToken"`
	RefreshToken     string        `json:"refreshToken,omitempty"`
	ExpiresAt        int64         `json:"expiresAt,omitempty"` // epoch millis
	UserID           string        `json:"userId,omitempty"`
	SubscriptionType string        `json:"subscriptionType,omitempty"`
	Account          *OAuthAccount `json:"account,omitempty"`
}

// OAuthAccount identifies the account owning the token.
type OAuthAccount struct {
	EmailAddress string `json:"email_address,omitempty"`
	UUID         string `json:"uuid,omitempty"`
}

// Valid reports whether the bundle carries a usable access token: the token
// must be present and expire more than five minutes after now. Anything else
// is treated as an absent credential, not an error.
func (b *CredentialBundle) Valid(now time.Time) bool {
	if b == nil || b.ClaudeAiOauth == nil {
		return false
	}
	o := b.ClaudeAiOauth
	if o.AccessToken == "" || o.ExpiresAt == 0 {
		return false
	}
	expiry := time.UnixMilli(o.ExpiresAt)
	return expiry.After(now.Add(expirySlack))
}

// AccessToken returns the access token or "" when the bundle is absent.
func (b *CredentialBundle) AccessToken() string {
	if b == nil || b.ClaudeAiOauth == nil {
		return ""
	}
	return b.ClaudeAiOauth.AccessToken
}
