// Package signature validates gateway HMAC-SHA256 signatures.
//
// The client-callback path signs "order_id|payment_id" with the API key
// secret. The webhook path signs the raw request body with the webhook secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign returns the lowercase hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is exactly the lowercase hex HMAC-SHA256
// of payload under secret. The hex string is compared as sent, so any other
// spelling of the same bytes is rejected.
func Verify(payload []byte, signature, secret string) bool {
	if secret == "" || len(signature) != sha256.Size*2 {
		return false
	}
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}

// PaymentPayload is the byte string the gateway signs on checkout success.
func PaymentPayload(orderID, paymentID string) []byte {
	return []byte(orderID + "|" + paymentID)
}

func VerifyPayment(orderID, paymentID, signature, keySecret string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return Verify(PaymentPayload(orderID, paymentID), signature, keySecret)
}

func VerifyWebhook(body []byte, signature, webhookSecret string) bool {
	if len(body) == 0 {
		return false
	}
	return Verify(body, signature, webhookSecret)
}
