// Package auth supplies the acting user's identity. The core treats a
// missing identity as offline mode, not an error.
package auth

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
)

// Identity is a stable user identity from the auth provider.
type Identity struct {
	UID         string
	DisplayName string
	PhotoURL    string
}

// Verifier validates Firebase ID tokens and maps them to identities.
type Verifier struct {
	client *fbauth.Client
}

// NewVerifier creates a token verifier from an initialized Firebase app.
func NewVerifier(ctx context.Context, app *firebase.App) (*Verifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth client: %w", err)
	}
	return &Verifier{client: client}, nil
}

// VerifyIDToken validates an ID token and returns the identity it carries.
func (v *Verifier) VerifyIDToken(ctx context.Context, idToken string) (*Identity, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	identity := &Identity{UID: token.UID}
	if name, ok := token.Claims["name"].(string); ok {
		identity.DisplayName = name
	}
	if picture, ok := token.Claims["picture"].(string); ok {
		identity.PhotoURL = picture
	}
	return identity, nil
}
