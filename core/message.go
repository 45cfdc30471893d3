package core

import (
	"strconv"
	"strings"
	"time"
)

// MessageTimeLayout is the timestamp layout embedded in signed messages.
const MessageTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// DefaultAppName names the application in challenge messages when none is set.
const DefaultAppName = "sigauth"

// Message field labels.
const (
	FieldAddress     = "Address"
	FieldPurpose     = "Purpose"
	FieldChallengeID = "Challenge ID"
	FieldNonce       = "Nonce"
	FieldChainID     = "Chain ID"
	FieldDomain      = "Domain"
	FieldTimestamp   = "Timestamp"
)

// BuildChallengeMessage renders the deterministic challenge text. Every
// value comes from stored fields or the issuing service's configuration so
// the message never needs persisting.
func BuildChallengeMessage(c *Challenge) string {
	app := c.AppName
	if app == "" {
		app = DefaultAppName
	}

	var b strings.Builder
	b.WriteString(app)
	b.WriteString(" wants you to sign in with your wallet.\n\n")
	writeField(&b, FieldAddress, c.Wallet)
	writeField(&b, FieldPurpose, string(c.Purpose))
	writeField(&b, FieldChallengeID, c.ID)
	writeField(&b, FieldNonce, c.Nonce)
	if c.ChainID > 0 {
		writeField(&b, FieldChainID, strconv.FormatInt(c.ChainID, 10))
	}
	if c.Domain != "" {
		writeField(&b, FieldDomain, c.Domain)
	}
	b.WriteString(FieldTimestamp)
	b.WriteString(": ")
	b.WriteString(c.CreatedAt.UTC().Format(MessageTimeLayout))
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	b.WriteString(label)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteByte('\n')
}

// MessageFields parses "Label: value" lines out of a signed message.
// The first occurrence of a label wins.
func MessageFields(message string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(message, "\n") {
		label, value, ok := strings.Cut(strings.TrimRight(line, "\r"), ": ")
		if !ok || label == "" {
			continue
		}
		if _, seen := fields[label]; !seen {
			fields[label] = strings.TrimSpace(value)
		}
	}
	return fields
}

// MessageTimestamp extracts the Timestamp field of a signed message.
func MessageTimestamp(message string) (time.Time, bool) {
	raw, ok := MessageFields(message)[FieldTimestamp]
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
