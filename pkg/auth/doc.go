// Package auth verifies the session cookies issued by the auth provider.
//
// # Overview
//
// The provider sets two cookies at login:
//
//	sb-access-token   - HS256 JWT: sub, email, user_role, org_id, exp
//	sb-refresh-token  - opaque; only its presence is recorded here
//
// Verifier turns the access token into a Session. Token renewal and login
// stay with the provider; this package never mints production tokens.
//
//	verifier := auth.NewVerifier(cfg.Auth.SessionSecret, auth.WithLeeway(30*time.Second))
//	session, err := verifier.VerifyRequest(r)
//	if err != nil {
//		// auth.ErrMissingToken, auth.ErrExpiredToken or auth.ErrInvalidToken
//	}
//
// When sessions come from an OpenID Connect provider instead, OIDCVerifier
// reads the same cookie and checks it against the issuer's published keys:
//
//	verifier, err := auth.NewOIDCVerifier(ctx, "https://login.example.com", "accessgate")
//
// Logout expires both cookies with ClearSessionCookies.
package auth
