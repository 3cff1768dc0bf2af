// Package auth verifies the shared API password.
//
// The configured api.password is either plaintext or an Argon2id hash in
// PHC string format ($argon2id$v=19$m=...,t=...,p=...$salt$hash). Hashes
// are produced by HashPassword, exposed on the command line as
// "homecore hash-password".
package auth
