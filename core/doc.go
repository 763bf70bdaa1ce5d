// Package core implements the protocol surface of an OpenID Connect 1.0 /
// OAuth 2.0 authorization server as embeddable HTTP middleware.
//
// The server owns the wire protocol: it classifies requests against the
// configured endpoint paths, validates authorization and token requests,
// mints and reads tokens, and writes protocol responses. Everything else
// is delegated to the hosting application through the Provider hooks:
// client registration lookups, user authentication, and grant decisions.
//
// A typical host wraps its own handler chain:
//
//	srv, _ := core.New(opts)
//	http.ListenAndServe(addr, srv.Handler(loginUI))
//
// When an authorization request passes validation the server stores it and
// passes the request down to the wrapped handler, which authenticates the
// user however it likes. Once a user is signed in, the host completes the
// flow by calling SignIn with an authentication ticket; the server then
// assembles the authorization response. Logout works the same way through
// SignOut.
package core
