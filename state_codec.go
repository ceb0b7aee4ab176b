package connect

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	ce "github.com/stefanogebara/twin-connect/errors"
	"github.com/stefanogebara/twin-connect/internal/aead"
)

// DefaultStateTTL bounds how long an issued state value stays redeemable.
const DefaultStateTTL = 10 * time.Minute

// AuthorizationState is the flow context carried inside the encrypted state
// parameter. It exists only for the round trip between authorization URL
// issuance and callback validation; it is never persisted server-side.
type AuthorizationState struct {
	UserID       string `json:"uid"`
	Provider     string `json:"prv"`
	CodeVerifier string `json:"cv"`
	Nonce        string `json:"n"`
	IssuedAt     int64  `json:"iat"` // unix seconds
	ReturnPath   string `json:"ret"`
}

// StateCodec encrypts and authenticates the OAuth state parameter. A valid
// state can only have been produced by this service, which is the CSRF
// defense for the whole flow.
type StateCodec struct {
	cipher *aead.Cipher
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec builds a codec over the state cipher. A zero ttl selects
// DefaultStateTTL.
func NewStateCodec(cipher *aead.Cipher, ttl time.Duration) *StateCodec {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCodec{cipher: cipher, ttl: ttl, now: time.Now}
}

// TTL returns the configured state lifetime.
func (c *StateCodec) TTL() time.Duration { return c.ttl }

// Encode serializes and seals the payload into the three-part hex wire token.
func (c *StateCodec) Encode(state *AuthorizationState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}

	token, err := c.cipher.Seal(raw)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return token, nil
}

// Decode authenticates, decrypts, and validates a state token. Malformed
// input, a failed auth tag, and an expired IssuedAt all map to invalid_state;
// no partial payload ever escapes.
func (c *StateCodec) Decode(token string) (*AuthorizationState, error) {
	raw, err := c.cipher.Open(token)
	if err != nil {
		if errors.Is(err, aead.ErrMalformed) {
			return nil, ce.NewInvalidState("state parameter is malformed")
		}
		return nil, ce.NewInvalidState("state parameter failed authentication")
	}

	var state AuthorizationState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, ce.NewInvalidState("state payload is not decodable")
	}

	issued := time.Unix(state.IssuedAt, 0)
	if c.now().Sub(issued) > c.ttl {
		return nil, ce.NewInvalidState("state parameter has expired")
	}
	if state.UserID == "" || state.Provider == "" || state.Nonce == "" || state.CodeVerifier == "" {
		return nil, ce.NewInvalidState("state payload is incomplete")
	}

	return &state, nil
}
