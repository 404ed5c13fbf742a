// Package platform is the REST client for the platform API: the session and
// org-switch calls used by the account manager, and the org, user and role
// collaborators that operate on behalf of a platform account.
//
// Every account-scoped call first passes the account through an
// Authenticator so expired credentials are renewed before use.
package platform
