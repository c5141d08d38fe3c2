// Package config loads gateway configuration from COURSEGATE_* environment
// variables, optionally seeded by a YAML file.
//
// # Sources
//
// COURSEGATE_CONFIG_FILE may name a flat YAML mapping whose keys are the
// unprefixed, lower-case variable names:
//
//	institutional_domain: uni.edu
//	risk_threshold: 5
//	risk_window: 15m
//
// Environment variables override file values.
//
// # Client addresses
//
//	COURSEGATE_TRUSTED_PROXIES="10.0.0.0/8"  # peers allowed to set X-Forwarded-For
//
// # Trust and risk
//
//	COURSEGATE_INSTITUTIONAL_DOMAIN="uni.edu"
//	COURSEGATE_RISK_WINDOW="15m"
//	COURSEGATE_RISK_THRESHOLD="5"
//	COURSEGATE_RISK_FAIL_OPEN="true"
//	COURSEGATE_RISK_STORE="redis"   # redis, memory
//
// The memory risk store is only correct for a single instance.
//
// # Invites and sessions
//
//	COURSEGATE_SESSION_SECRET="..."  # at least 32 bytes
//	COURSEGATE_INVITE_SECRET="..."  # defaults to the session secret
//	COURSEGATE_INVITE_DEFAULT_TTL="72h"
//
// # OAuth
//
//	COURSEGATE_OAUTH_PROVIDER="oidc"  # oidc, oauth2
//	COURSEGATE_OAUTH_ISSUER_URL="https://accounts.google.com"
//	COURSEGATE_OAUTH_CLIENT_ID="..."
//	COURSEGATE_OAUTH_CLIENT_SECRET="..."
//	COURSEGATE_OAUTH_REDIRECT_URL="https://gate.uni.edu/auth/callback"
package config
