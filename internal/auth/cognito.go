package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"resty.dev/v3"

	"github.com/jvanveen/groendus-hass/internal/config"
	"github.com/jvanveen/groendus-hass/internal/netutil"
)

// ErrInvalidCredentials is returned when Cognito rejects the configured
// email/password pair (wrong password, disabled or locked account). This is
// fatal and must never be retried in a loop.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

const (
	targetInitiateAuth = "AWSCognitoIdentityProviderService.InitiateAuth"

	authFlowPassword = "USER_PASSWORD_AUTH"
	authFlowRefresh  = "REFRESH_TOKEN_AUTH"
)

// clientMetadata is required by the PreAuthentication trigger in the Athlon
// tenant; logins without it are rejected.
var clientMetadata = map[string]string{
	"client":    "Portal",
	"label":     "athlon",
	"portalUrl": "https://athlon.groendus.nl/",
}

// Cognito error types that indicate rejected credentials rather than a
// transient failure.
var credentialErrorTypes = map[string]bool{
	"NotAuthorizedException":         true,
	"UserNotFoundException":          true,
	"UserNotConfirmedException":      true,
	"PasswordResetRequiredException": true,
	"UserLambdaValidationException":  true,
}

// cognitoError is the JSON error body of the cognito-idp service.
type cognitoError struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func (e *cognitoError) Error() string {
	return fmt.Sprintf("cognito %s: %s", e.Type, e.Message)
}

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
	ClientMetadata map[string]string `json:"ClientMetadata,omitempty"`
}

type initiateAuthResponse struct {
	AuthenticationResult struct {
		IDToken      string `json:"IdToken"`
		AccessToken  string `json:"AccessToken"`
		RefreshToken string `json:"RefreshToken"`
		ExpiresIn    int    `json:"ExpiresIn"`
	} `json:"AuthenticationResult"`
	ChallengeName string `json:"ChallengeName"`
}

// Client authenticates against the Groendus Cognito user pool. It speaks the
// cognito-idp JSON protocol directly; the password auth flow makes an SDK
// unnecessary.
type Client struct {
	http        *resty.Client
	clientID    string
	credentials Credentials
	logger      *logrus.Logger
}

// NewClient creates an authenticator for the given credentials.
func NewClient(credentials Credentials, logger *logrus.Logger) *Client {
	endpoint := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com", config.CognitoRegion)

	http := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(config.CognitoTimeout).
		SetTransport(netutil.NewTransport()).
		SetHeader("Content-Type", "application/x-amz-json-1.1").
		SetHeader("User-Agent", "groendus-hass")

	return &Client{
		http:        http,
		clientID:    config.CognitoClientID,
		credentials: credentials,
		logger:      logger,
	}
}

// EnsureValidToken returns a token set that is safe to use right now. A
// current set within the safety margin is returned unchanged without any
// network traffic; an expiring set is refreshed; a failed or impossible
// refresh falls back to a full login. Rejected credentials surface as
// ErrInvalidCredentials.
func (c *Client) EnsureValidToken(ctx context.Context, current *TokenSet) (*TokenSet, error) {
	now := time.Now()

	if current.ValidAt(now) {
		return current, nil
	}

	if current != nil && current.RefreshToken != "" {
		tokens, err := c.Refresh(ctx, current.RefreshToken)
		if err == nil {
			return tokens, nil
		}

		var ce *cognitoError
		if !errors.As(err, &ce) {
			// Transport-level failure; a login attempt would hit the same
			// network, so surface the error and let the next poll retry.
			return nil, err
		}
		c.logger.WithError(err).Info("Refresh token rejected, falling back to full login")
	}

	return c.Login(ctx)
}

// Login performs the full password exchange and returns a fresh token set.
func (c *Client) Login(ctx context.Context) (*TokenSet, error) {
	if c.credentials.IsZero() {
		return nil, fmt.Errorf("%w: no credentials configured", ErrInvalidCredentials)
	}

	req := initiateAuthRequest{
		AuthFlow: authFlowPassword,
		ClientID: c.clientID,
		AuthParameters: map[string]string{
			"USERNAME": c.credentials.Email,
			"PASSWORD": c.credentials.Password,
		},
		ClientMetadata: clientMetadata,
	}

	result, err := c.initiateAuth(ctx, req)
	if err != nil {
		var ce *cognitoError
		if errors.As(err, &ce) && credentialErrorTypes[ce.Type] {
			return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, ce.Message)
		}
		return nil, err
	}

	auth := result.AuthenticationResult
	if auth.IDToken == "" || auth.AccessToken == "" {
		if result.ChallengeName != "" {
			return nil, fmt.Errorf("%w: unsupported auth challenge %s", ErrInvalidCredentials, result.ChallengeName)
		}
		return nil, fmt.Errorf("auth: login response contained no tokens")
	}

	now := time.Now()
	tokens := &TokenSet{
		IDToken:      auth.IDToken,
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		ExpiresAt:    tokenExpiry(auth.IDToken, auth.ExpiresIn, now),
	}

	c.logger.WithField("expires_at", tokens.ExpiresAt).Info("Cognito login successful")
	return tokens, nil
}

// Refresh exchanges a refresh token for a new ID/access token pair. Cognito
// does not rotate the refresh token on this flow, so the given one is carried
// over into the returned set.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	req := initiateAuthRequest{
		AuthFlow: authFlowRefresh,
		ClientID: c.clientID,
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": refreshToken,
		},
	}

	result, err := c.initiateAuth(ctx, req)
	if err != nil {
		return nil, err
	}

	auth := result.AuthenticationResult
	if auth.IDToken == "" || auth.AccessToken == "" {
		return nil, &cognitoError{Type: "NotAuthorizedException", Message: "refresh returned no tokens"}
	}

	now := time.Now()
	tokens := &TokenSet{
		IDToken:      auth.IDToken,
		AccessToken:  auth.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    tokenExpiry(auth.IDToken, auth.ExpiresIn, now),
	}

	c.logger.WithField("expires_at", tokens.ExpiresAt).Debug("Cognito token refreshed")
	return tokens, nil
}

// initiateAuth posts a single InitiateAuth call and decodes the response.
func (c *Client) initiateAuth(ctx context.Context, body initiateAuthRequest) (*initiateAuthResponse, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Amz-Target", targetInitiateAuth).
		SetBody(body).
		Post("/")
	if err != nil {
		return nil, fmt.Errorf("auth: cognito request failed: %w", err)
	}

	raw := resp.Bytes()

	if resp.StatusCode() >= 400 {
		ce := &cognitoError{}
		if err := json.Unmarshal(raw, ce); err == nil && ce.Type != "" {
			return nil, ce
		}
		return nil, fmt.Errorf("auth: cognito returned status %d: %s", resp.StatusCode(), string(raw))
	}

	var result initiateAuthResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("auth: failed to decode cognito response: %w", err)
	}
	return &result, nil
}
