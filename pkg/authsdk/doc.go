/*
Package authsdk is the client SDK for the watchlist auth service, and the home
of the wire types the service itself writes.

A browser-style login runs in three steps:

	client := authsdk.NewClient("https://watchlist.example.com")

	// 1. Ask for the provider URL, optionally with a PKCE challenge.
	login, err := client.Login(ctx, authsdk.LoginParams{ReturnURL: "/lists"})

	// 2. Send the user agent to login.AuthorizationURL. The provider redirects
	//    back to the callback with code and state.

	// 3. Trade them for a session token.
	session, err := client.Callback(ctx, code, login.State, verifier)

The session token is then presented as a bearer token:

	me, err := client.Me(ctx, session.Token)

Admins manage who else is an admin:

	users, err := client.ListUsers(ctx, session.Token)
	user, err := client.SetAdmin(ctx, session.Token, "google-oauth2|123", true)

Every non-2xx response is returned as an *APIError. Compare against the
predefined errors with errors.Is, which matches on the error code:

	if errors.Is(err, authsdk.ErrInvalidToken) {
		// log in again
	}
*/
package authsdk
