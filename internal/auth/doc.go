// Package auth validates the bearer tokens presented to the hub.
//
// Tokens are HS256 JWTs issued by the surrounding platform. The role claim
// selects one of four callers (device, user, service, admin) and a static
// role-permission map decides what each may do. User and device tokens carry
// the numeric ID in the subject; the hub trusts it without a database lookup.
package auth
