// Package signal encodes connection signals into copy-pasteable tokens.
package signal

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"peerboard/internal/core/domain"
)

const (
	DefaultMaxTokenLength = 64 * 1024
	InviteQueryParam      = "signal"
)

// base64 variants accepted on decode, most specific first.
var decodings = []*base64.Encoding{
	base64.RawURLEncoding,
	base64.URLEncoding,
	base64.RawStdEncoding,
	base64.StdEncoding,
}

type Codec struct {
	maxTokenLength int
}

func NewCodec(maxTokenLength int) *Codec {
	if maxTokenLength <= 0 {
		maxTokenLength = DefaultMaxTokenLength
	}
	return &Codec{maxTokenLength: maxTokenLength}
}

// Encode renders the payload as unpadded URL-safe base64 of its JSON form.
func (c *Codec) Encode(payload domain.SignalPayload) (string, error) {
	if err := validate(payload); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	if len(token) > c.maxTokenLength {
		return "", fmt.Errorf("%w: token is %d bytes, limit %d", domain.ErrMalformedToken, len(token), c.maxTokenLength)
	}
	return token, nil
}

// Decode parses a token produced by Encode. Whitespace introduced by
// copying is ignored. Every failure wraps domain.ErrMalformedToken.
func (c *Codec) Decode(token string) (domain.SignalPayload, error) {
	token = strings.Join(strings.Fields(token), "")
	if token == "" {
		return domain.SignalPayload{}, fmt.Errorf("%w: empty token", domain.ErrMalformedToken)
	}
	if len(token) > c.maxTokenLength {
		return domain.SignalPayload{}, fmt.Errorf("%w: token exceeds %d bytes", domain.ErrMalformedToken, c.maxTokenLength)
	}

	raw, err := decodeBase64(token)
	if err != nil {
		return domain.SignalPayload{}, err
	}

	var payload domain.SignalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return domain.SignalPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	if err := validate(payload); err != nil {
		return domain.SignalPayload{}, err
	}
	return payload, nil
}

// InviteLink appends the token to baseURL as the signal query parameter.
func (c *Codec) InviteLink(baseURL, token string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid invite base url: %w", err)
	}
	q := u.Query()
	q.Set(InviteQueryParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FromInviteLink extracts and decodes the token carried by an invite link.
func (c *Codec) FromInviteLink(link string) (domain.SignalPayload, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return domain.SignalPayload{}, fmt.Errorf("%w: %v", domain.ErrMalformedToken, err)
	}
	token := u.Query().Get(InviteQueryParam)
	if token == "" {
		return domain.SignalPayload{}, fmt.Errorf("%w: link has no %s parameter", domain.ErrMalformedToken, InviteQueryParam)
	}
	return c.Decode(token)
}

func decodeBase64(token string) ([]byte, error) {
	var lastErr error
	for _, enc := range decodings {
		raw, err := enc.DecodeString(token)
		if err == nil {
			return raw, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %v", domain.ErrMalformedToken, lastErr)
}

func validate(p domain.SignalPayload) error {
	switch p.Kind {
	case domain.SignalOffer, domain.SignalAnswer:
	default:
		return fmt.Errorf("%w: unknown kind %q", domain.ErrMalformedToken, p.Kind)
	}
	if p.ParticipantID == "" {
		return fmt.Errorf("%w: missing participantId", domain.ErrMalformedToken)
	}
	if p.Kind == domain.SignalAnswer && p.TargetID == "" {
		return fmt.Errorf("%w: answer without targetId", domain.ErrMalformedToken)
	}
	if p.SessionDescription.Type != "" && p.SessionDescription.Type != string(p.Kind) {
		return fmt.Errorf("%w: description type %q does not match kind %q",
			domain.ErrMalformedToken, p.SessionDescription.Type, p.Kind)
	}
	return validateSDP(p.SessionDescription.SDP)
}

func validateSDP(sdp string) error {
	if sdp == "" {
		return fmt.Errorf("%w: empty session description", domain.ErrMalformedToken)
	}
	if !strings.HasPrefix(sdp, "v=") {
		return fmt.Errorf("%w: session description must start with v=", domain.ErrMalformedToken)
	}
	for _, field := range []string{"o=", "s=", "t="} {
		if !strings.Contains(sdp, field) {
			return fmt.Errorf("%w: session description missing %s", domain.ErrMalformedToken, field)
		}
	}
	return nil
}
