/*
Package auth authenticates username/password pairs against Active Directory
and provisions a matching local user on success.

A login tries three bind DN forms in order (UPN, down-level logon name,
explicit DN) and stops at the first that binds. Each attempt opens its own
directory connection. Rejected binds, unreachable servers and failed
searches are logged and treated as "try the next form"; only provisioning
failures after a successful bind are returned as errors.

	backend := auth.NewBackend(directory, auth.NewProber(connector, directory.SearchBase(), timeout, true), store)

	user, ok, err := backend.Authenticate(ctx, "jdoe", password)
	switch {
	case err != nil:
		// directory accepted the credential but the local store failed
	case !ok:
		// no identity
	}
*/
package auth
