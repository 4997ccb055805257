package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/karimtraders/grocery/internal/platform/config"
)

const adminCallTimeout = 5 * time.Second

var (
	// ErrUserEmailUnknown means the shopper has no e-mail on their Firebase account.
	ErrUserEmailUnknown = errors.New("auth: user has no email")

	errVerifierClosed = errors.New("auth: firebase client not initialised")
)

// FirebaseVerifier verifies shopper ID tokens and looks up notification recipients through the
// Firebase Admin SDK.
type FirebaseVerifier struct {
	client *firebaseauth.Client
}

// NewFirebaseVerifier initialises the Admin SDK app for cfg.ProjectID.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

// VerifyIDToken checks signature, expiry and audience of a shopper token.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errVerifierClosed
	}
	ctx, cancel := context.WithTimeout(ctx, adminCallTimeout)
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

// LookupEmail returns the address order e-mails are sent to.
func (v *FirebaseVerifier) LookupEmail(ctx context.Context, uid string) (string, error) {
	if v == nil || v.client == nil {
		return "", errVerifierClosed
	}
	ctx, cancel := context.WithTimeout(ctx, adminCallTimeout)
	defer cancel()

	user, err := v.client.GetUser(ctx, uid)
	switch {
	case firebaseauth.IsUserNotFound(err):
		return "", ErrUserEmailUnknown
	case err != nil:
		return "", fmt.Errorf("auth: get user %s: %w", uid, err)
	}
	email := ""
	if user.UserInfo != nil {
		email = strings.TrimSpace(user.Email)
	}
	if email == "" {
		return "", ErrUserEmailUnknown
	}
	return email, nil
}
