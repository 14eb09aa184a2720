// Package jwt manages session-credential issuance and verification using
// configured signing keys and strict validation semantics. A parsed credential
// only proves integrity; session liveness is decided by the session manager.
package jwt
