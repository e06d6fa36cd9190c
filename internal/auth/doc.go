// Package auth issues and checks the bearer tokens that protect the
// operator API.
//
// Devices never authenticate; only the REST surface does, and only when a
// JWT secret is configured. Tokens are HS256 JWTs carrying a Role:
//
//	viewer    read devices, stats, events
//	operator  viewer + config push, direct message, broadcast
//
// Tokens are minted offline (hubd -issue-token) and validated by signature
// alone; there is no session store.
package auth
