// Package auth issues and verifies the bearer tokens that protect the
// bridge's HTTP API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. There are no user
// accounts: an operator mints tokens with `purifierbridge token`, naming a
// subject (logged and written to the audit log) and a role:
//   - operator: may change device state
//   - admin: may also read the audit log
//
// Permissions are a static role mapping, checked per route by the API.
package auth
