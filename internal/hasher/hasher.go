// Package hasher provides the one-way password primitives. The authoritative
// store uses Bcrypt and the local fallback store uses PBKDF2; the two are
// never interchanged because their stored formats differ.
package hasher

// Hasher derives and verifies password hashes. Variants that embed the salt
// in the hash return an empty salt.
type Hasher interface {
	Hash(password string) (hash, salt string, err error)
	Verify(password, hash, salt string) bool
}
