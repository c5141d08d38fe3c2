package sso

import (
	"context"
	"fmt"
	"strings"
)

// Provider defines the interface for upstream identity providers
type Provider interface {
	// Type returns the provider protocol
	Type() ProviderType

	// AuthCodeURL returns the provider URL the browser is sent to for login
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for a verified identity
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// NewProvider creates a provider instance from configuration
func NewProvider(ctx context.Context, config *Config) (Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case ProviderTypeOIDC:
		return NewOIDCProvider(ctx, config)
	case ProviderTypeOAuth2:
		return NewOAuth2Provider(config)
	default:
		return nil, fmt.Errorf("unsupported provider type: %s", config.Type)
	}
}

// Validate checks the fields required by the configured provider type
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	if c.RedirectURL == "" {
		return fmt.Errorf("redirect_url is required")
	}

	switch c.Type {
	case ProviderTypeOIDC:
		if c.IssuerURL == "" {
			return fmt.Errorf("issuer_url is required")
		}
	case ProviderTypeOAuth2:
		if c.AuthURL == "" {
			return fmt.Errorf("auth_url is required")
		}
		if c.TokenURL == "" {
			return fmt.Errorf("token_url is required")
		}
		if c.UserInfoURL == "" {
			return fmt.Errorf("user_info_url is required")
		}
	default:
		return fmt.Errorf("unsupported provider type: %s", c.Type)
	}
	return nil
}

// identityFromClaims maps a claim set onto an Identity. fallbackSubject is
// used when the mapped subject claim is absent.
func identityFromClaims(claims map[string]interface{}, mapping AttributeMap, fallbackSubject string) (*Identity, error) {
	mapping = mapping.withDefaults()

	if verified, ok := claims["email_verified"].(bool); ok && !verified {
		return nil, ErrEmailUnverified
	}

	identity := &Identity{
		Subject:      getStringValue(claims, mapping.Subject),
		Email:        strings.TrimSpace(getStringValue(claims, mapping.Email)),
		Name:         getStringValue(claims, mapping.Name),
		HostedDomain: strings.ToLower(getStringValue(claims, mapping.HostedDomain)),
	}
	if identity.Subject == "" {
		identity.Subject = fallbackSubject
	}
	if identity.Email == "" {
		return nil, ErrMissingEmail
	}
	if identity.Subject == "" {
		return nil, fmt.Errorf("missing subject in identity assertion")
	}
	return identity, nil
}

func getStringValue(data map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
