package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/example/outreachbot/internal/logging"
)

func TestClassifyLanding(t *testing.T) {
	tests := map[string]landing{
		"https://www.linkedin.com/feed/":                    landingFeed,
		"https://www.linkedin.com/checkpoint/challenge/AgF": landingCheckpoint,
		"https://www.linkedin.com/login?session_redirect=x": landingLogin,
		"https://www.linkedin.com/uas/login-submit":         landingLogin,
		"https://www.linkedin.com/in/jane-doe/":             landingOther,
	}
	for url, want := range tests {
		assert.Equal(t, want, classifyLanding(url), url)
	}
}

func TestNew_NormalizesBaseURL(t *testing.T) {
	a := New("https://example.test", ".cache/cookies.json", Credentials{}, logging.Discard())
	assert.Equal(t, "https://example.test/", a.baseURL)
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("LINKEDIN_EMAIL", "ops@example.test")
	t.Setenv("LINKEDIN_PASSWORD", "secret")
	assert.Equal(t, Credentials{Email: "ops@example.test", Password: "secret"}, CredentialsFromEnv())
}
