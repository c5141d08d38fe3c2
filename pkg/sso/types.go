package sso

import "errors"

// ProviderType represents the protocol spoken with the identity provider
type ProviderType string

const (
	ProviderTypeOAuth2 ProviderType = "oauth2"
	ProviderTypeOIDC   ProviderType = "oidc"
)

var (
	// ErrMissingCode is returned when the callback carries no authorization code
	ErrMissingCode = errors.New("missing authorization code")
	// ErrMissingEmail is returned when the assertion carries no email address
	ErrMissingEmail = errors.New("identity assertion has no email")
	// ErrEmailUnverified is returned when the provider reports the email as unverified
	ErrEmailUnverified = errors.New("identity provider reports email as unverified")
)

// Config describes one upstream identity provider
type Config struct {
	Type         ProviderType `yaml:"type"`
	ClientID     string       `yaml:"client_id"`
	ClientSecret string       `yaml:"client_secret"`
	RedirectURL  string       `yaml:"redirect_url"`
	Scopes       []string     `yaml:"scopes"`

	// OIDC
	IssuerURL string `yaml:"issuer_url"`

	// OAuth2
	AuthURL     string `yaml:"auth_url"`
	TokenURL    string `yaml:"token_url"`
	UserInfoURL string `yaml:"user_info_url"`

	AttributeMapping AttributeMap `yaml:"attribute_mapping"`
}

// AttributeMap names the claims each identity field is read from
type AttributeMap struct {
	Subject      string `yaml:"subject"`
	Email        string `yaml:"email"`
	Name         string `yaml:"name"`
	HostedDomain string `yaml:"hosted_domain"`
}

// DefaultAttributeMap returns the standard OIDC claim names
func DefaultAttributeMap() AttributeMap {
	return AttributeMap{
		Subject:      "sub",
		Email:        "email",
		Name:         "name",
		HostedDomain: "hd",
	}
}

func (m AttributeMap) withDefaults() AttributeMap {
	def := DefaultAttributeMap()
	if m.Subject == "" {
		m.Subject = def.Subject
	}
	if m.Email == "" {
		m.Email = def.Email
	}
	if m.Name == "" {
		m.Name = def.Name
	}
	if m.HostedDomain == "" {
		m.HostedDomain = def.HostedDomain
	}
	return m
}

// Identity is the assertion obtained from the provider after a successful login
type Identity struct {
	Subject      string `json:"subject"`
	Email        string `json:"email"`
	Name         string `json:"name,omitempty"`
	HostedDomain string `json:"hosted_domain,omitempty"`
}
