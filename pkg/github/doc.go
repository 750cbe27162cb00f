// Package github wraps the GitHub REST API operations used to propagate
// repository standards: resolving the authenticated identity, forking
// repositories, reading file contents at a ref and opening pull requests.
//
// Every call goes through a shared RateLimiter and WithRetry, and failures are
// returned as *Error values classified by ErrorType.
package github
