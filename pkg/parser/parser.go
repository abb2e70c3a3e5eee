// Package parser is the client for the external service that turns a
// free-text request into a structured intent. The deployment core never
// sees the free text.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/netpush-network/netpush/pkg/intent"
)

// DefaultTimeout bounds one parse request.
const DefaultTimeout = 8 * time.Second

// maxResponse caps how much of a reply is read.
const maxResponse = 1 << 20

// Error is a parse failure. Status is the HTTP status, or 0 when the
// request never got a response.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("intent parser: HTTP %d: %s", e.Status, e.Message)
	case e.Message != "":
		return "intent parser: " + e.Message
	case e.Err != nil:
		return "intent parser: " + e.Err.Error()
	}
	return fmt.Sprintf("intent parser: HTTP %d", e.Status)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type request struct {
	Command    string `json:"command"`
	StrictMode bool   `json:"strict_mode"`
}

type envelope struct {
	Success bool            `json:"success"`
	Config  json.RawMessage `json:"config"`
	Message string          `json:"message"`
}

// Client calls the parser service.
type Client struct {
	URL    string
	Token  string
	Strict bool
	HTTP   *http.Client
}

// New returns a client for url with a pooled cleanhttp transport and
// DefaultTimeout.
func New(url, token string) *Client {
	hc := cleanhttp.DefaultPooledClient()
	hc.Timeout = DefaultTimeout
	return &Client{URL: url, Token: token, Strict: true, HTTP: hc}
}

// Parse sends text to the service and returns the validated intent.
func (c *Client) Parse(ctx context.Context, text string) (*intent.Intent, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Message: "empty request"}
	}
	body, err := json.Marshal(request{Command: text, StrictMode: c.Strict})
	if err != nil {
		return nil, &Error{Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	hc := c.HTTP
	if hc == nil {
		hc = cleanhttp.DefaultClient()
		hc.Timeout = DefaultTimeout
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &Error{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Err: err}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode != http.StatusOK {
		msg := env.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, &Error{Status: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return nil, &Error{Status: resp.StatusCode, Message: "malformed response", Err: decodeErr}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = "request not understood"
		}
		return nil, &Error{Status: resp.StatusCode, Message: msg}
	}
	if len(env.Config) == 0 || string(env.Config) == "null" {
		return nil, &Error{Status: resp.StatusCode, Message: "response has no config"}
	}

	in, err := intent.Parse(env.Config)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: "parsed intent rejected", Err: err}
	}
	return in, nil
}

// IsParserError reports whether err came from the parser service.
func IsParserError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
