package handlers

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// validTwilioSignature checks the X-Twilio-Signature header: HMAC-SHA1 over
// the full webhook URL concatenated with the sorted form parameters, base64
// encoded. The form must already be parsed.
func validTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" {
		return false
	}
	payload := twilioSignaturePayload(webhookURL, r.PostForm)
	h := hmac.New(sha1.New, []byte(authToken))
	h.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(h.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

func twilioSignaturePayload(webhookURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(webhookURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	return b.String()
}

// validElevenLabsSignature checks the ElevenLabs-Signature header, which
// carries `t=<unix>,v0=<hex>` where v0 is HMAC-SHA256 over "<t>.<body>".
func validElevenLabsSignature(header, secret string, body []byte) bool {
	var timestamp, provided string
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "v0="):
			provided = strings.TrimPrefix(part, "v0=")
		}
	}
	if timestamp == "" || provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(provided), []byte(expected))
}

// validPlivoSignature checks the X-Plivo-Signature-V2 header: HMAC-SHA256
// over the webhook URL plus the nonce header, base64 encoded.
func validPlivoSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Plivo-Signature-V2")
	nonce := r.Header.Get("X-Plivo-Signature-V2-Nonce")
	if signature == "" || nonce == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(authToken))
	mac.Write([]byte(webhookURL))
	mac.Write([]byte(nonce))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}

// validVapiSecret checks Vapi's static shared-secret header.
func validVapiSecret(header, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(header), []byte(secret)) == 1
}
