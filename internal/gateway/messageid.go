package gateway

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedMessageID is returned when a message ID cannot be decoded
// back into its request and client identifiers.
var ErrMalformedMessageID = errors.New("gateway: malformed message id")

var messageIDEncoding = base64.URLEncoding.WithPadding(base64.NoPadding)

// EncodeMessageID builds the outbound message identifier carried on every
// gateway transmission. The request and client identifiers are embedded so
// that provider callbacks can be correlated without a lookup:
//
//	base64url(requestID) + "~" + base64url(clientID) + "@" + domain
func EncodeMessageID(requestID, clientID, domain string) string {
	return messageIDEncoding.EncodeToString([]byte(requestID)) +
		"~" +
		messageIDEncoding.EncodeToString([]byte(clientID)) +
		"@" + domain
}

// DecodeMessageID recovers the request and client identifiers from a
// message ID produced by EncodeMessageID.
func DecodeMessageID(id string) (requestID, clientID string, err error) {
	local, _, found := strings.Cut(id, "@")
	if !found {
		return "", "", fmt.Errorf("%w: missing domain: %q", ErrMalformedMessageID, id)
	}
	encReq, encClient, found := strings.Cut(local, "~")
	if !found {
		return "", "", fmt.Errorf("%w: missing separator: %q", ErrMalformedMessageID, id)
	}
	reqBytes, err := messageIDEncoding.DecodeString(encReq)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedMessageID, err)
	}
	clientBytes, err := messageIDEncoding.DecodeString(encClient)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedMessageID, err)
	}
	return string(reqBytes), string(clientBytes), nil
}
