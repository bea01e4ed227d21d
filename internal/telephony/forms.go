package telephony

import (
	"net/http"
	"strconv"
	"strings"
)

// Twilio posts application/x-www-form-urlencoded bodies. These types hold
// the subset of fields the voice flow reads.
// Ref: https://www.twilio.com/docs/voice/twiml#request-parameters

type InboundForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	CallerName string
}

type SpeechForm struct {
	CallSid      string
	From         string
	To           string
	SpeechResult string
	Confidence   float64
}

type StatusForm struct {
	CallSid      string
	From         string
	To           string
	CallStatus   string
	CallDuration int
	Timestamp    string
}

func ParseInbound(r *http.Request) (InboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return InboundForm{}, err
	}
	return InboundForm{
		CallSid:    strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		CallStatus: r.PostFormValue("CallStatus"),
		CallerName: r.PostFormValue("CallerName"),
	}, nil
}

// ParseSpeech reads a Gather callback. A missing or malformed Confidence is zero.
func ParseSpeech(r *http.Request) (SpeechForm, error) {
	if err := r.ParseForm(); err != nil {
		return SpeechForm{}, err
	}
	conf, _ := strconv.ParseFloat(r.PostFormValue("Confidence"), 64)
	return SpeechForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		SpeechResult: strings.TrimSpace(r.PostFormValue("SpeechResult")),
		Confidence:   conf,
	}, nil
}

func ParseStatus(r *http.Request) (StatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return StatusForm{}, err
	}
	dur, _ := strconv.Atoi(r.PostFormValue("CallDuration"))
	return StatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		CallStatus:   r.PostFormValue("CallStatus"),
		CallDuration: dur,
		Timestamp:    r.PostFormValue("Timestamp"),
	}, nil
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}
