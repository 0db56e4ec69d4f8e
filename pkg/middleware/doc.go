// Package middleware provides the HTTP middleware chain for the login
// gateway: request logging, panic recovery, request IDs, and rate limiting
// on the authentication endpoints.
package middleware
