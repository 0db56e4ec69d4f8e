// Package provision implements just-in-time (JIT) user provisioning for
// federated logins.
//
// A validated identity is exchanged for exactly one persistent UserProfile,
// looked up case-insensitively by email. First logins create the underlying
// authentication identity and the profile in two steps with a compensating
// delete: if the profile insert fails after the identity exists, the identity
// is removed synchronously so no orphaned authentication record survives.
//
// Concurrent first logins for the same email are resolved by the store's
// unique constraint, not application locking: a duplicate-key insert is
// treated as a lost race and the service re-reads and returns the winner's
// profile.
package provision
