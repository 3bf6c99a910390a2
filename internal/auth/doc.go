// Package auth provides bearer-token authentication for the admin API.
//
// Tokens are HS256 JWTs signed with the configured admin secret. The
// bootstrap-token CLI subcommand mints operator tokens; HTTPAuthMiddleware
// rejects requests without a valid token. When no secret is configured the
// middleware is not installed and the API is open (local development).
package auth
