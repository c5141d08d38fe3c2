// Package sso obtains identity assertions from the upstream identity provider.
//
// Two provider kinds are supported. OpenID Connect providers are discovered
// from their issuer URL and the ID token is verified against the published
// keys. Plain OAuth2 providers are queried through a configured userinfo
// endpoint after the code exchange.
//
// Either way the caller receives an Identity carrying the email address, the
// display name, the provider subject and the hosted-domain hint (the "hd"
// claim) when the provider supplies one:
//
//	provider, err := sso.NewProvider(ctx, &sso.Config{
//		Type:         sso.ProviderTypeOIDC,
//		IssuerURL:    "https://accounts.google.com",
//		ClientID:     clientID,
//		ClientSecret: clientSecret,
//		RedirectURL:  "https://gate.example.edu/auth/callback",
//	})
//	...
//	http.Redirect(w, r, provider.AuthCodeURL(state), http.StatusFound)
//	...
//	identity, err := provider.Exchange(ctx, r.URL.Query().Get("code"))
//
// The package does not decide whether an identity is trusted. That is left to
// the trust evaluator.
package sso
