package signature

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/internal/clock"
)

const (
	// DefaultClockSkew is how far in the future a signed Timestamp may be
	DefaultClockSkew = 30 * time.Second

	// DefaultReplayCapacity bounds the legacy replay set
	DefaultReplayCapacity = 10000
)

var signaturePattern = regexp.MustCompile(`^0x[0-9a-fA-F]{130}$`)

// EthVerifier verifies EIP-191 personal_sign signatures
type EthVerifier struct {
	clock     clock.Clock
	clockSkew time.Duration
	replay    *ReplayGuard
}

// Option configures an EthVerifier
type Option func(*EthVerifier)

// WithClock sets the clock used for freshness checks
func WithClock(c clock.Clock) Option {
	return func(v *EthVerifier) { v.clock = c }
}

// WithReplayCapacity bounds the number of remembered legacy messages
func WithReplayCapacity(n int) Option {
	return func(v *EthVerifier) { v.replay = NewReplayGuard(n) }
}

// NewEthVerifier creates a new verifier
func NewEthVerifier(opts ...Option) *EthVerifier {
	v := &EthVerifier{
		clock:     clock.Real(),
		clockSkew: DefaultClockSkew,
		replay:    NewReplayGuard(DefaultReplayCapacity),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify recovers the signer of message and compares it to expectedAddress
func (v *EthVerifier) Verify(message, signature, expectedAddress string) core.VerifyResult {
	expected, err := core.NormalizeAddress(expectedAddress)
	if err != nil {
		return core.VerifyResult{Err: err}
	}
	if !signaturePattern.MatchString(signature) {
		return core.VerifyResult{Err: core.ErrMalformedSignature}
	}

	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return core.VerifyResult{Err: fmt.Errorf("%w: %v", core.ErrSignatureMismatch, err)}
	}
	if !strings.EqualFold(recovered, expected) {
		return core.VerifyResult{Recovered: recovered, Err: core.ErrSignatureMismatch}
	}

	return core.VerifyResult{Valid: true, Recovered: recovered}
}

// VerifyWithFreshness checks the signature, the embedded Timestamp and
// single use of the (address, purpose, nonce) triple.
func (v *EthVerifier) VerifyWithFreshness(message, signature, expectedAddress string, maxAge time.Duration) core.VerifyResult {
	res := v.Verify(message, signature, expectedAddress)
	if !res.Valid {
		return res
	}

	signedAt, ok := core.MessageTimestamp(message)
	if !ok {
		return core.VerifyResult{Recovered: res.Recovered, Err: core.ErrStaleMessage}
	}
	now := v.clock.Now()
	if signedAt.After(now.Add(v.clockSkew)) || now.Sub(signedAt) > maxAge {
		return core.VerifyResult{Recovered: res.Recovered, Err: core.ErrStaleMessage}
	}

	fields := core.MessageFields(message)
	nonce := fields[core.FieldNonce]
	if nonce == "" {
		return core.VerifyResult{Recovered: res.Recovered, Err: core.ErrStaleMessage}
	}
	key := res.Recovered + "|" + fields[core.FieldPurpose] + "|" + nonce
	if err := v.replay.Mark(key, now.Add(maxAge), now); err != nil {
		return core.VerifyResult{Recovered: res.Recovered, Err: err}
	}

	return res
}

// RecoverAddress returns the lowercase address that produced an EIP-191
// signature over message.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("failed to decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}

	// Wallets emit V as 27/28, go-ethereum expects 0/1
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover public key: %w", err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}
