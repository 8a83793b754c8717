package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func signedTwilioRequest(t *testing.T, authToken, webhookURL string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, webhookURL, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := req.ParseForm(); err != nil {
		t.Fatalf("parse form: %v", err)
	}

	// Twilio signs URL + params sorted by key, HMAC-SHA1, base64.
	payload := webhookURL
	payload += "CallSidCA001"
	payload += "From+15550100100"
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(payload))
	req.Header.Set("X-Twilio-Signature", base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return req
}

func TestValidTwilioSignature(t *testing.T) {
	const authToken = "twilio-auth-token"
	const webhookURL = "https://intake.casecurrent.example/webhooks/twilio/voice"
	form := url.Values{"CallSid": {"CA001"}, "From": {"+15550100100"}}

	req := signedTwilioRequest(t, authToken, webhookURL, form)
	if !validTwilioSignature(req, authToken, webhookURL) {
		t.Error("correctly signed request rejected")
	}
	if validTwilioSignature(req, "other-token", webhookURL) {
		t.Error("signature accepted under wrong token")
	}

	req.Header.Set("X-Twilio-Signature", "")
	if validTwilioSignature(req, authToken, webhookURL) {
		t.Error("missing signature accepted")
	}
}

func TestValidElevenLabsSignature(t *testing.T) {
	const secret = "elevenlabs-secret"
	body := []byte(`{"type":"post_call_transcription"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("1724900000"))
	mac.Write([]byte("."))
	mac.Write(body)
	header := "t=1724900000,v0=" + hex.EncodeToString(mac.Sum(nil))

	if !validElevenLabsSignature(header, secret, body) {
		t.Error("correctly signed payload rejected")
	}
	if validElevenLabsSignature(header, secret, []byte(`{}`)) {
		t.Error("tampered body accepted")
	}
	if validElevenLabsSignature("t=1724900000", secret, body) {
		t.Error("header without v0 accepted")
	}
}

func TestValidPlivoSignature(t *testing.T) {
	const authToken = "plivo-auth-token"
	const webhookURL = "https://intake.casecurrent.example/webhooks/plivo/voice"
	const nonce = "12345678"

	mac := hmac.New(sha256.New, []byte(authToken))
	mac.Write([]byte(webhookURL))
	mac.Write([]byte(nonce))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, webhookURL, nil)
	req.Header.Set("X-Plivo-Signature-V2", signature)
	req.Header.Set("X-Plivo-Signature-V2-Nonce", nonce)
	if !validPlivoSignature(req, authToken, webhookURL) {
		t.Error("correctly signed request rejected")
	}

	req.Header.Set("X-Plivo-Signature-V2-Nonce", "87654321")
	if validPlivoSignature(req, authToken, webhookURL) {
		t.Error("wrong nonce accepted")
	}
}
