package qr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// tokenPayload is the opaque scan token. It deliberately carries no mutable
// order content (address, items) so a stale printed code cannot mislead a
// driver about what the order currently holds.
type tokenPayload struct {
	DeliveryID    uuid.UUID `json:"deliveryId"`
	OrderID       uuid.UUID `json:"orderId"`
	StatusVersion int64     `json:"statusVersion"`
	Tag           string    `json:"tag"`
}

func signTag(secret string, deliveryID, orderID uuid.UUID, statusVersion int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s|%s|%d", deliveryID, orderID, statusVersion)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func encodeToken(payload tokenPayload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func decodeToken(token string) (*tokenPayload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, err
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (p *tokenPayload) verify(secret string) bool {
	expected := signTag(secret, p.DeliveryID, p.OrderID, p.StatusVersion)
	return hmac.Equal([]byte(expected), []byte(p.Tag))
}
