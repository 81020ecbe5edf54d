// Package memory provides an in-process [goIdentity.CredentialStore] guarded
// by a single mutex. It backs tests, the demo mode of identityd and small
// single-instance deployments; state is lost on restart.
package memory
