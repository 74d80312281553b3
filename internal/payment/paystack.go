package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/subx-ng/subx-core/internal/config"
)

// SignatureHeader carries the HMAC-SHA512 of a webhook body.
const SignatureHeader = "X-Paystack-Signature"

// Paystack implements Provider against the Paystack transaction API.
type Paystack struct {
	secret      string
	baseURL     string
	callbackURL string
	client      *http.Client
}

// NewPaystack builds a client from configuration.
func NewPaystack(cfg config.PaystackConfig) *Paystack {
	return &Paystack{
		secret:      cfg.SecretKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		callbackURL: cfg.CallbackURL,
		client:      &http.Client{Timeout: cfg.Timeout},
	}
}

// envelope is the shape of every Paystack response.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transaction struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

func (p *Paystack) do(ctx context.Context, method, path string, body any, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode paystack request")
		}
		rdr = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rdr)
	if err != nil {
		return errors.Wrap(err, "build paystack request")
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "paystack %s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err != nil {
		return errors.Wrapf(ErrProvider, "paystack %s %s: status %d, undecodable body", method, path, resp.StatusCode)
	}
	if resp.StatusCode >= 300 || !env.Status {
		return errors.Wrapf(ErrProvider, "paystack %s %s: status %d: %s", method, path, resp.StatusCode, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode paystack data")
		}
	}
	return nil
}

// Initialize implements Provider.
func (p *Paystack) Initialize(ctx context.Context, in InitializeRequest) (InitializeResponse, error) {
	callback := in.CallbackURL
	if callback == "" {
		callback = p.callbackURL
	}
	body := map[string]any{
		"email":     in.Email,
		"amount":    ToMinor(in.Amount),
		"currency":  in.Currency,
		"reference": in.Reference,
	}
	if callback != "" {
		body["callback_url"] = callback
	}
	if len(in.Metadata) > 0 {
		body["metadata"] = in.Metadata
	}
	var out InitializeResponse
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return InitializeResponse{}, err
	}
	if out.Reference == "" {
		out.Reference = in.Reference
	}
	return out, nil
}

// Verify implements Provider.
func (p *Paystack) Verify(ctx context.Context, reference string) (Verification, error) {
	var tx transaction
	path := fmt.Sprintf("/transaction/verify/%s", url.PathEscape(reference))
	if err := p.do(ctx, http.MethodGet, path, nil, &tx); err != nil {
		return Verification{}, err
	}
	return Verification{
		Reference: tx.Reference,
		Status:    tx.Status,
		Amount:    FromMinor(tx.Amount),
		Currency:  tx.Currency,
	}, nil
}

// VerifySignature implements Provider.  Paystack signs the raw body with
// HMAC-SHA512 keyed by the secret key.
func (p *Paystack) VerifySignature(payload []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || p.secret == "" {
		return false
	}
	expected := Sign(p.secret, payload)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}

// ParseEvent implements Provider.
func (p *Paystack) ParseEvent(payload []byte) (Event, error) {
	var raw struct {
		Event string      `json:"event"`
		Data  transaction `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, errors.Wrapf(ErrMalformedEvent, "decode paystack event: %v", err)
	}
	if raw.Event == "" {
		return Event{}, errors.Wrap(ErrMalformedEvent, "paystack event without type")
	}
	return Event{
		Type:      raw.Event,
		Reference: raw.Data.Reference,
		Status:    raw.Data.Status,
		Amount:    FromMinor(raw.Data.Amount),
		Currency:  raw.Data.Currency,
	}, nil
}

// Sign computes the signature Paystack would send for payload.  It is
// used by tooling that replays webhooks.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
