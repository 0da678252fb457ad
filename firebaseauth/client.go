// Package firebaseauth manages Firebase Authentication users and
// tokens through the Firebase Admin SDK.
package firebaseauth

import (
	"context"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "firebaseauth"

const defaultListLimit = 1000

// Client wraps the Firebase Auth admin API for the configured project.
type Client struct {
	auth     *auth.Client
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Firebase Auth client using the settings'
// credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: settings.ProjectID}, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to initialize firebase app", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create firebase auth client", err)
	}

	return &Client{
		auth:     authClient,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// CreateUser creates a user.
func (c *Client) CreateUser(ctx context.Context, spec UserSpec) (*UserInfo, error) {
	if spec.Email == "" && spec.PhoneNumber == "" {
		return nil, gcperr.Validation(serviceName, "either email or phone number is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating user", "email", spec.Email)

	params := &auth.UserToCreate{}
	if spec.UID != "" {
		params = params.UID(spec.UID)
	}
	if spec.Email != "" {
		params = params.Email(spec.Email)
	}
	if spec.Password != "" {
		params = params.Password(spec.Password)
	}
	if spec.PhoneNumber != "" {
		params = params.PhoneNumber(spec.PhoneNumber)
	}
	if spec.DisplayName != "" {
		params = params.DisplayName(spec.DisplayName)
	}
	if spec.PhotoURL != "" {
		params = params.PhotoURL(spec.PhotoURL)
	}
	params = params.EmailVerified(spec.EmailVerified).Disabled(spec.Disabled)

	user, err := c.auth.CreateUser(ctx, params)
	if err != nil {
		return nil, c.classify("create user", err).WithDetail("email", spec.Email)
	}
	return toUserInfo(user), nil
}

// GetUser fetches a user by UID.
func (c *Client) GetUser(ctx context.Context, uid string) (*UserInfo, error) {
	if uid == "" {
		return nil, gcperr.Validation(serviceName, "uid is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting user", "uid", uid)

	user, err := c.auth.GetUser(ctx, uid)
	if err != nil {
		return nil, c.classify("get user", err).WithDetail("uid", uid)
	}
	return toUserInfo(user), nil
}

// GetUserByEmail fetches a user by email address.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*UserInfo, error) {
	if email == "" {
		return nil, gcperr.Validation(serviceName, "email is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting user by email", "email", email)

	user, err := c.auth.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, c.classify("get user by email", err).WithDetail("email", email)
	}
	return toUserInfo(user), nil
}

// GetUserByPhoneNumber fetches a user by E.164 phone number.
func (c *Client) GetUserByPhoneNumber(ctx context.Context, phoneNumber string) (*UserInfo, error) {
	if phoneNumber == "" {
		return nil, gcperr.Validation(serviceName, "phone number is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting user by phone number")

	user, err := c.auth.GetUserByPhoneNumber(ctx, phoneNumber)
	if err != nil {
		return nil, c.classify("get user by phone number", err)
	}
	return toUserInfo(user), nil
}

// UpdateUser applies the given changes to a user.
func (c *Client) UpdateUser(ctx context.Context, uid string, update UserUpdate) (*UserInfo, error) {
	if uid == "" {
		return nil, gcperr.Validation(serviceName, "uid is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "updating user", "uid", uid)

	params := &auth.UserToUpdate{}
	if update.Email != nil {
		params = params.Email(*update.Email)
	}
	if update.Password != nil {
		params = params.Password(*update.Password)
	}
	if update.PhoneNumber != nil {
		params = params.PhoneNumber(*update.PhoneNumber)
	}
	if update.DisplayName != nil {
		params = params.DisplayName(*update.DisplayName)
	}
	if update.PhotoURL != nil {
		params = params.PhotoURL(*update.PhotoURL)
	}
	if update.EmailVerified != nil {
		params = params.EmailVerified(*update.EmailVerified)
	}
	if update.Disabled != nil {
		params = params.Disabled(*update.Disabled)
	}

	user, err := c.auth.UpdateUser(ctx, uid, params)
	if err != nil {
		return nil, c.classify("update user", err).WithDetail("uid", uid)
	}
	return toUserInfo(user), nil
}

// DeleteUser removes one user.
func (c *Client) DeleteUser(ctx context.Context, uid string) error {
	if uid == "" {
		return gcperr.Validation(serviceName, "uid is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting user", "uid", uid)

	if err := c.auth.DeleteUser(ctx, uid); err != nil {
		return c.classify("delete user", err).WithDetail("uid", uid)
	}
	return nil
}

// DeleteUsers removes up to 1000 users in one request. Per-user
// failures are reported in the result, not as an error.
func (c *Client) DeleteUsers(ctx context.Context, uids []string) (*DeleteUsersResult, error) {
	if len(uids) == 0 {
		return nil, gcperr.Validation(serviceName, "at least one uid is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting users", "count", len(uids))

	result, err := c.auth.DeleteUsers(ctx, uids)
	if err != nil {
		return nil, c.classify("delete users", err)
	}
	return toDeleteUsersResult(result), nil
}

// ListUsers lists users. Limit 0 uses a default of 1000.
func (c *Client) ListUsers(ctx context.Context, limit int) ([]UserInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing users")

	if limit <= 0 {
		limit = defaultListLimit
	}

	var users []UserInfo
	it := c.auth.Users(ctx, "")
	for len(users) < limit {
		user, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, c.classify("list users", err)
		}
		users = append(users, *toUserInfo(user.UserRecord))
	}
	return users, nil
}

// SetCustomUserClaims replaces a user's custom claims. The claims
// appear in subsequently minted ID tokens; nil clears them.
func (c *Client) SetCustomUserClaims(ctx context.Context, uid string, claims map[string]any) error {
	if uid == "" {
		return gcperr.Validation(serviceName, "uid is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "setting custom claims", "uid", uid)

	if err := c.auth.SetCustomUserClaims(ctx, uid, claims); err != nil {
		return c.classify("set custom claims", err).WithDetail("uid", uid)
	}
	return nil
}

// VerifyIDToken verifies a client-minted ID token's signature and
// expiry. With checkRevoked it also rejects tokens issued before the
// user's refresh tokens were last revoked.
func (c *Client) VerifyIDToken(ctx context.Context, idToken string, checkRevoked bool) (*Token, error) {
	if idToken == "" {
		return nil, gcperr.Validation(serviceName, "id token is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()

	var (
		token *auth.Token
		err   error
	)
	if checkRevoked {
		token, err = c.auth.VerifyIDTokenAndCheckRevoked(ctx, idToken)
	} else {
		token, err = c.auth.VerifyIDToken(ctx, idToken)
	}
	if err != nil {
		return nil, c.classify("verify id token", err)
	}
	return &Token{
		UID:      token.UID,
		Issuer:   token.Issuer,
		Audience: token.Audience,
		IssuedAt: time.Unix(token.IssuedAt, 0).UTC(),
		Expires:  time.Unix(token.Expires, 0).UTC(),
		Claims:   token.Claims,
	}, nil
}

// RevokeRefreshTokens invalidates a user's refresh tokens, forcing
// re-authentication.
func (c *Client) RevokeRefreshTokens(ctx context.Context, uid string) error {
	if uid == "" {
		return gcperr.Validation(serviceName, "uid is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "revoking refresh tokens", "uid", uid)

	if err := c.auth.RevokeRefreshTokens(ctx, uid); err != nil {
		return c.classify("revoke refresh tokens", err).WithDetail("uid", uid)
	}
	return nil
}

// CustomToken mints a custom token the client SDKs can exchange for an
// ID token. Claims may be nil.
func (c *Client) CustomToken(ctx context.Context, uid string, claims map[string]any) (string, error) {
	if uid == "" {
		return "", gcperr.Validation(serviceName, "uid is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "minting custom token", "uid", uid)

	var (
		token string
		err   error
	)
	if len(claims) > 0 {
		token, err = c.auth.CustomTokenWithClaims(ctx, uid, claims)
	} else {
		token, err = c.auth.CustomToken(ctx, uid)
	}
	if err != nil {
		return "", c.classify("mint custom token", err).WithDetail("uid", uid)
	}
	return token, nil
}

// EmailVerificationLink generates an email verification link for the
// user.
func (c *Client) EmailVerificationLink(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", gcperr.Validation(serviceName, "email is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "generating email verification link", "email", email)

	link, err := c.auth.EmailVerificationLink(ctx, email)
	if err != nil {
		return "", c.classify("generate email verification link", err).WithDetail("email", email)
	}
	return link, nil
}

// PasswordResetLink generates a password reset link for the user.
func (c *Client) PasswordResetLink(ctx context.Context, email string) (string, error) {
	if email == "" {
		return "", gcperr.Validation(serviceName, "email is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "generating password reset link", "email", email)

	link, err := c.auth.PasswordResetLink(ctx, email)
	if err != nil {
		return "", c.classify("generate password reset link", err).WithDetail("email", email)
	}
	return link, nil
}

// Helpers

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

// classify maps Firebase Admin SDK errors onto the shared error kinds.
func (c *Client) classify(action string, err error) *gcperr.Error {
	if auth.IsUserNotFound(err) {
		return gcperr.NotFound(serviceName, "failed to "+action+": user not found", err)
	}
	if auth.IsEmailAlreadyExists(err) || auth.IsUIDAlreadyExists(err) || auth.IsPhoneNumberAlreadyExists(err) {
		return gcperr.AlreadyExists(serviceName, "failed to "+action+": user already exists", err)
	}
	return gcperr.Classify(serviceName, action, err)
}

func toUserInfo(user *auth.UserRecord) *UserInfo {
	info := &UserInfo{
		UID:           user.UID,
		Email:         user.Email,
		PhoneNumber:   user.PhoneNumber,
		DisplayName:   user.DisplayName,
		PhotoURL:      user.PhotoURL,
		EmailVerified: user.EmailVerified,
		Disabled:      user.Disabled,
		CustomClaims:  user.CustomClaims,
	}
	if user.UserMetadata != nil {
		info.CreateTime = fromMillis(user.UserMetadata.CreationTimestamp)
		info.LastLoginTime = fromMillis(user.UserMetadata.LastLogInTimestamp)
	}
	return info
}

func toDeleteUsersResult(result *auth.DeleteUsersResult) *DeleteUsersResult {
	out := &DeleteUsersResult{
		SuccessCount: result.SuccessCount,
		FailureCount: result.FailureCount,
	}
	for _, e := range result.Errors {
		out.Errors = append(out.Errors, DeleteUserError{Index: e.Index, Reason: e.Reason})
	}
	return out
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
