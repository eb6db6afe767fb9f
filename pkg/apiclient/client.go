// Package apiclient talks to the gateway's HTTP API.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/citizenwallet/aa-gateway/pkg/userop"
	"github.com/go-resty/resty/v2"
)

type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a failed response of the gateway
type APIError struct {
	StatusCode int
	Code       string      `json:"code"`
	Message    string      `json:"message"`
	Details    []Violation `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Message)
	}

	details := make([]string, len(e.Details))
	for i, d := range e.Details {
		details[i] = d.Field + ": " + d.Message
	}

	return fmt.Sprintf("%s (%d): %s [%s]", e.Code, e.StatusCode, e.Message, strings.Join(details, "; "))
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

type operationRequest struct {
	UserOp  userop.UserOperation `json:"userOp"`
	ChainID int64                `json:"chainId"`
}

// StatusResult is the state of a submitted operation
type StatusResult struct {
	UserOpHash string          `json:"userOpHash"`
	Status     userop.Status   `json:"status"`
	Receipt    *userop.Receipt `json:"receipt,omitempty"`
}

type Client struct {
	http *resty.Client
}

// New returns a client for the gateway served at baseURL
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json"),
	}
}

func (c *Client) do(req *resty.Request, method, path string, out any) error {
	var env envelope
	resp, err := req.SetResult(&env).SetError(&env).Execute(method, path)
	if err != nil {
		return err
	}

	if !env.Success {
		if env.Error == nil {
			return &APIError{StatusCode: resp.StatusCode(), Code: "UNKNOWN", Message: resp.String()}
		}
		env.Error.StatusCode = resp.StatusCode()
		return env.Error
	}

	return json.Unmarshal(env.Data, out)
}

// Sponsor asks the gateway to attach paymaster data to op
func (c *Client) Sponsor(ctx context.Context, op userop.UserOperation, chainID int64) (*userop.UserOperation, error) {
	var data struct {
		SponsoredUserOp *userop.UserOperation `json:"sponsoredUserOp"`
	}

	req := c.http.R().SetContext(ctx).SetBody(operationRequest{UserOp: op, ChainID: chainID})
	if err := c.do(req, resty.MethodPost, "/user-operations/sponsor", &data); err != nil {
		return nil, err
	}

	if data.SponsoredUserOp == nil {
		return nil, fmt.Errorf("gateway returned no sponsored operation")
	}

	return data.SponsoredUserOp, nil
}

// Send submits a signed operation and returns its hash
func (c *Client) Send(ctx context.Context, op userop.UserOperation, chainID int64) (string, error) {
	var data StatusResult

	req := c.http.R().SetContext(ctx).SetBody(operationRequest{UserOp: op, ChainID: chainID})
	if err := c.do(req, resty.MethodPost, "/user-operations", &data); err != nil {
		return "", err
	}

	return data.UserOpHash, nil
}

// Status looks up a submitted operation once
func (c *Client) Status(ctx context.Context, hash string) (*StatusResult, error) {
	var data StatusResult

	req := c.http.R().SetContext(ctx).SetPathParam("hash", hash)
	if err := c.do(req, resty.MethodGet, "/user-operations/{hash}", &data); err != nil {
		return nil, err
	}

	return &data, nil
}
