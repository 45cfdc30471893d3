package ports

import (
	"time"

	"github.com/layer-3/sigauth/core"
)

// SignatureVerifier checks wallet signatures over text messages
type SignatureVerifier interface {
	Verify(message, signature, expectedAddress string) core.VerifyResult

	// VerifyWithFreshness additionally requires an embedded Timestamp no older
	// than maxAge and blocks replay of the same signed message.
	VerifyWithFreshness(message, signature, expectedAddress string, maxAge time.Duration) core.VerifyResult
}
