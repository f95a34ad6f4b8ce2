// Package mpesa implements the Safaricom Daraja STK push flow used to
// collect book payments. The client satisfies library.PaymentGateway.
package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quietlibrary/tracker/pkg/library"
)

const (
	tokenPath   = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath = "/mpesa/stkpush/v1/processrequest"

	// Daraja expects timestamps in local "YYYYMMDDHHMMSS" form.
	timestampLayout = "20060102150405"

	transactionType = "CustomerPayBillOnline"

	defaultTimeout = 30 * time.Second
)

var (
	ErrInvalidConfig = errors.New("mpesa: invalid configuration")
	ErrTokenRequest  = errors.New("mpesa: token request failed")
	ErrPushRequest   = errors.New("mpesa: stk push request failed")
)

// Config carries the Daraja credentials and endpoints.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Shortcode      string
	Passkey        string
	CallbackURL    string
	Timeout        time.Duration
}

// Validate checks that every required field is present.
func (config Config) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, field)
	}
	switch {
	case strings.TrimSpace(config.BaseURL) == "":
		return missing("base URL")
	case strings.TrimSpace(config.ConsumerKey) == "":
		return missing("consumer key")
	case strings.TrimSpace(config.ConsumerSecret) == "":
		return missing("consumer secret")
	case strings.TrimSpace(config.Shortcode) == "":
		return missing("shortcode")
	case strings.TrimSpace(config.Passkey) == "":
		return missing("passkey")
	case strings.TrimSpace(config.CallbackURL) == "":
		return missing("callback URL")
	}
	return nil
}

// Client talks to the Daraja API.
type Client struct {
	config     Config
	httpClient *http.Client
	nowFn      func() time.Time
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = httpClient
	}
}

// WithNow replaces the clock used for password timestamps.
func WithNow(nowFn func() time.Time) ClientOption {
	return func(client *Client) {
		client.nowFn = nowFn
	}
}

// NewClient validates the configuration and returns a Client.
func NewClient(config Config, options ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		nowFn:      time.Now,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
}

type pushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            string `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

// RequestPayment initiates an STK push for the amount and returns the raw
// provider response body.
func (client *Client) RequestPayment(ctx context.Context, phone library.PhoneNumber, amount library.AmountCents, reference string) (json.RawMessage, error) {
	accessToken, err := client.fetchToken(ctx)
	if err != nil {
		return nil, err
	}
	timestamp := client.nowFn().Format(timestampLayout)
	payload := pushRequest{
		BusinessShortCode: client.config.Shortcode,
		Password:          client.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            strconv.FormatInt(amount.WholeUnits(), 10),
		PartyA:            phone.String(),
		PartyB:            client.config.Shortcode,
		PhoneNumber:       phone.String(),
		CallBackURL:       client.config.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   "Book purchase " + reference,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPushRequest, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, client.config.BaseURL+stkPushPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPushRequest, err)
	}
	request.Header.Set("Authorization", "Bearer "+accessToken)
	request.Header.Set("Content-Type", "application/json")

	response, err := client.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPushRequest, err)
	}
	defer response.Body.Close()
	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPushRequest, err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrPushRequest, response.StatusCode, strings.TrimSpace(string(responseBody)))
	}
	return json.RawMessage(responseBody), nil
}

func (client *Client) fetchToken(ctx context.Context) (string, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, client.config.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	request.SetBasicAuth(client.config.ConsumerKey, client.config.ConsumerSecret)

	response, err := client.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrTokenRequest, response.StatusCode)
	}
	var token tokenResponse
	if err := json.NewDecoder(response.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenRequest, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrTokenRequest)
	}
	return token.AccessToken, nil
}

// password derives the Lipa Na M-Pesa password for a timestamp.
func (client *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(client.config.Shortcode + client.config.Passkey + timestamp))
}
