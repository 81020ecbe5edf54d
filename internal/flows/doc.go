// Package flows contains pure-function orchestrators for the engine's
// multi-step operations: reset request, reset redemption, admin-forced
// reset, assertion login and password login.
//
// Each Run function accepts a typed dependency struct of funcs and host
// sentinel errors. The root engine builds those structs and owns every
// resource they reach.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goIdentity (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through dependency funcs.
package flows
