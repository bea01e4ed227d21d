package telephony

import (
	"bytes"
	"encoding/xml"
	"strconv"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.

const (
	sayVoice    = "Polly.Joanna"
	sayLanguage = "en-US"

	gatherSpeechTimeout = 3
	gatherTimeout       = 10
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name  `xml:"Gather"`
	Input         string    `xml:"input,attr"`
	Action        string    `xml:"action,attr"`
	Method        string    `xml:"method,attr"`
	SpeechTimeout string    `xml:"speechTimeout,attr"`
	Timeout       string    `xml:"timeout,attr"`
	Prompt        *twimlSay `xml:"Say,omitempty"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Response accumulates verbs in order. The zero value is an empty document.
type Response struct {
	verbs []any
}

func NewResponse() *Response { return &Response{} }

func (r *Response) Say(text string) *Response {
	r.verbs = append(r.verbs, newSay(text))
	return r
}

func (r *Response) Play(url string) *Response {
	r.verbs = append(r.verbs, twimlPlay{URL: url})
	return r
}

// Gather collects caller speech and posts it to action. prompt is spoken
// inside the gather so the caller can barge in; empty means no prompt.
func (r *Response) Gather(action, prompt string) *Response {
	g := twimlGather{
		Input:         "speech",
		Action:        action,
		Method:        "POST",
		SpeechTimeout: strconv.Itoa(gatherSpeechTimeout),
		Timeout:       strconv.Itoa(gatherTimeout),
	}
	if prompt != "" {
		s := newSay(prompt)
		g.Prompt = &s
	}
	r.verbs = append(r.verbs, g)
	return r
}

func (r *Response) Hangup() *Response {
	r.verbs = append(r.verbs, twimlHangup{})
	return r
}

// Render returns the complete XML document.
func (r *Response) Render() (string, error) {
	doc := twimlResponse{Verbs: r.verbs}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func newSay(text string) twimlSay {
	return twimlSay{Voice: sayVoice, Language: sayLanguage, Text: text}
}

// fallbackTwiML is served when rendering itself fails.
const fallbackTwiML = xml.Header + `<Response>
  <Say voice="Polly.Joanna" language="en-US">We&#39;re sorry, but we&#39;re experiencing technical difficulties. Please try again later.</Say>
  <Hangup></Hangup>
</Response>`
