package service

import (
	"strings"
	"time"

	"github.com/flowstack/flowstack/pkg/cache"
)

const signupMetadataTTL = 10 * time.Minute

// SignupMetadata remembers the redirect target a visitor arrived with, keyed
// by the email they later sign up under. The intent endpoint and the register
// endpoint are separate requests, so the hand-off goes through a short-lived
// cache entry rather than request state.
type SignupMetadata struct {
	cache *cache.Cache
}

// NewSignupMetadata creates a signup metadata store
func NewSignupMetadata(c *cache.Cache) *SignupMetadata {
	return &SignupMetadata{cache: c}
}

// Record stores the redirect target for an email about to sign up.
func (m *SignupMetadata) Record(email, redirectTo string) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || redirectTo == "" {
		return
	}
	m.cache.Set("signup:"+email, redirectTo, signupMetadataTTL)
}

// Take returns the recorded redirect target for an email and removes it.
// Returns "" when nothing was recorded or the entry expired.
func (m *SignupMetadata) Take(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	key := "signup:" + email
	v, ok := m.cache.Get(key)
	if !ok {
		return ""
	}
	m.cache.Delete(key)
	redirectTo, _ := v.(string)
	return redirectTo
}
