// Package auth implements the OAuth2 device authorization grant against a
// Keycloak style realm: requesting a device code, surfacing it to the user
// and polling the token endpoint until the authorization resolves.
package auth
