// Package auth owns the gateway credential and its lifecycle.
//
// A Credential is produced by the external account service (AccountService),
// persisted between runs (EnvStore), and guarded at connect time (Guard):
// an expired access token refuses the connection outright, and a missing
// approval key is issued on demand by the gateway's approval endpoint
// (ApprovalClient). Token renewal itself is the account service's job.
package auth
