package telephony

import (
	"bytes"
	"encoding/xml"
)

// Minimal TwiML builder. Only the verbs the call-handling responses need are
// modeled; no provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

type twimlRecord struct {
	XMLName   xml.Name `xml:"Record"`
	Action    string   `xml:"action,attr,omitempty"`
	MaxLength int      `xml:"maxLength,attr,omitempty"`
	PlayBeep  bool     `xml:"playBeep,attr"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func renderTwiML(verbs ...any) string {
	r := twimlResponse{Verbs: verbs}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		// The verb structs are static shapes; encoding cannot fail on them.
		return xml.Header + "<Response></Response>"
	}
	_ = enc.Flush()
	return buf.String()
}

// VoicemailTwiML plays a greeting and records a message. Used both as the
// normal intake flow and as the graceful fallback when ingestion fails.
func VoicemailTwiML(greeting, recordingCallbackURL string) string {
	return renderTwiML(
		twimlSay{Text: greeting},
		twimlRecord{Action: recordingCallbackURL, MaxLength: 180, PlayBeep: true},
	)
}

// HoldTwiML is returned for duplicate webhooks for an already-ingested call.
func HoldTwiML() string {
	return renderTwiML(
		twimlSay{Text: "Please hold while we connect you."},
		twimlPause{Length: 30},
	)
}

// NotConfiguredTwiML tells the caller the number is not set up. Returned with
// a 200 so the provider does not retry.
func NotConfiguredTwiML(notice string) string {
	return renderTwiML(
		twimlSay{Text: notice},
		twimlHangup{},
	)
}

// EmptyTwiML acknowledges a webhook with no further instructions (SMS acks,
// status callbacks).
func EmptyTwiML() string {
	return renderTwiML()
}

// Plivo speaks its own XML vocabulary (Speak/Wait instead of Say/Pause), so
// the voice responses get Plivo-flavored variants.

type plivoSpeak struct {
	XMLName xml.Name `xml:"Speak"`
	Text    string   `xml:",chardata"`
}

type plivoWait struct {
	XMLName xml.Name `xml:"Wait"`
	Length  int      `xml:"length,attr,omitempty"`
}

type plivoRecord struct {
	XMLName   xml.Name `xml:"Record"`
	Action    string   `xml:"action,attr,omitempty"`
	MaxLength int      `xml:"maxLength,attr,omitempty"`
	PlayBeep  bool     `xml:"playBeep,attr"`
}

type plivoHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// VoicemailPlivoXML is the Plivo rendition of the voicemail flow.
func VoicemailPlivoXML(greeting, recordingCallbackURL string) string {
	return renderTwiML(
		plivoSpeak{Text: greeting},
		plivoRecord{Action: recordingCallbackURL, MaxLength: 180, PlayBeep: true},
	)
}

// HoldPlivoXML is the Plivo rendition of the duplicate-webhook hold.
func HoldPlivoXML() string {
	return renderTwiML(
		plivoSpeak{Text: "Please hold while we connect you."},
		plivoWait{Length: 30},
	)
}

// NotConfiguredPlivoXML is the Plivo rendition of the unconfigured notice.
func NotConfiguredPlivoXML(notice string) string {
	return renderTwiML(
		plivoSpeak{Text: notice},
		plivoHangup{},
	)
}
