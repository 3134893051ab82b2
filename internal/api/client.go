package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"resty.dev/v3"

	"github.com/jvanveen/groendus-hass/internal/config"
	"github.com/jvanveen/groendus-hass/internal/netutil"
)

// ErrTokenExpired indicates the API rejected the bearer token. The caller
// may re-authenticate once and retry; a second rejection in the same poll is
// a plain API failure.
var ErrTokenExpired = errors.New("api: token expired or invalid")

// APIError is a non-auth failure of the GraphQL endpoint: a non-2xx status
// or a GraphQL-level error in an otherwise well-formed response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("api: status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api: %s", e.Message)
}

type graphQLRequest struct {
	Query     string `json:"query"`
	Variables any    `json:"variables,omitempty"`
}

type graphQLError struct {
	Message   string `json:"message"`
	ErrorType string `json:"errorType"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// Client issues the fixed GraphQL operations against the Groendus AppSync
// endpoint. It holds no token itself; the caller passes the current ID token
// per call so token lifecycle stays with the authenticator.
type Client struct {
	http   *resty.Client
	logger *logrus.Logger
}

// NewClient creates a new GraphQL API client.
func NewClient(logger *logrus.Logger) *Client {
	http := resty.New().
		SetBaseURL(config.GraphQLEndpoint).
		SetTimeout(config.GraphQLTimeout).
		SetTransport(netutil.NewTransport()).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "groendus-hass")

	return &Client{http: http, logger: logger}
}

// Bootstrap fetches the driver profile with its chargepoints.
func (c *Client) Bootstrap(ctx context.Context, idToken string) (*Driver, error) {
	var data struct {
		GetDriver *Driver `json:"getDriver"`
	}
	if err := c.do(ctx, idToken, queryBootstrap, nil, &data); err != nil {
		return nil, err
	}
	if data.GetDriver == nil {
		return nil, &APIError{Message: "bootstrap returned no driver"}
	}

	c.logger.WithFields(logrus.Fields{
		"driver":       data.GetDriver.Email,
		"chargepoints": len(data.GetDriver.Chargepoints),
	}).Debug("Bootstrap query succeeded")

	return data.GetDriver, nil
}

// ListTransactions fetches one page of charging transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context, idToken string, page, size int) (*TransactionPage, error) {
	variables := map[string]any{
		"page": map[string]any{
			"page": page,
			"size": size,
			"sort": "startDateTime:DESC",
		},
		"filter": nil,
	}

	var data struct {
		ListTransactions *TransactionPage `json:"listTransactions"`
	}
	if err := c.do(ctx, idToken, queryTransactions, variables, &data); err != nil {
		return nil, err
	}
	if data.ListTransactions == nil {
		return nil, &APIError{Message: "listTransactions returned no page"}
	}

	c.logger.WithFields(logrus.Fields{
		"page":        page,
		"items":       len(data.ListTransactions.Items),
		"total_count": data.ListTransactions.TotalCount,
	}).Debug("Transaction page fetched")

	return data.ListTransactions, nil
}

// do posts a single GraphQL operation and decodes the data envelope into out.
func (c *Client) do(ctx context.Context, idToken, query string, variables, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", idToken).
		SetBody(graphQLRequest{Query: query, Variables: variables}).
		Post("")
	if err != nil {
		return fmt.Errorf("api: request failed: %w", err)
	}

	if resp.StatusCode() == 401 || resp.StatusCode() == 403 {
		return ErrTokenExpired
	}

	raw := resp.Bytes()

	var envelope graphQLResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode() >= 400 {
			return &APIError{StatusCode: resp.StatusCode(), Message: string(raw)}
		}
		return fmt.Errorf("api: failed to decode response: %w", err)
	}

	if len(envelope.Errors) > 0 {
		if isAuthFailure(envelope.Errors) {
			return ErrTokenExpired
		}
		return &APIError{StatusCode: resp.StatusCode(), Message: envelope.Errors[0].Message}
	}

	if resp.StatusCode() >= 400 {
		return &APIError{StatusCode: resp.StatusCode(), Message: string(raw)}
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("api: failed to decode data payload: %w", err)
	}
	return nil
}

// isAuthFailure detects the AppSync error shapes for an expired or invalid
// Cognito token.
func isAuthFailure(errs []graphQLError) bool {
	for _, e := range errs {
		if e.ErrorType == "UnauthorizedException" {
			return true
		}
		msg := strings.ToLower(e.Message)
		if strings.Contains(msg, "token has expired") ||
			strings.Contains(msg, "valid authorization header") ||
			strings.Contains(msg, "not authorized") {
			return true
		}
	}
	return false
}
