package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"voice-agent-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

const twilioSignatureHeader = "X-Twilio-Signature"

// TwilioSignature computes X-Twilio-Signature for a POST: HMAC-SHA1 keyed
// with the account auth token over the full URL followed by every form
// parameter name and value, sorted by name, base64 encoded.
func TwilioSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		vals := append([]string(nil), params[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// ValidTwilioSignature compares in constant time.
func ValidTwilioSignature(authToken, fullURL string, params url.Values, declared string) bool {
	if declared == "" || authToken == "" {
		return false
	}
	expected := TwilioSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(declared))
}

// RequireTwilioSignature rejects webhook requests whose X-Twilio-Signature
// does not match. publicBaseURL is the externally visible origin Twilio was
// configured with; the request path and query are appended to it.
func RequireTwilioSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}
		fullURL := base + c.Request.URL.RequestURI()
		if !ValidTwilioSignature(authToken, fullURL, c.Request.PostForm, c.GetHeader(twilioSignatureHeader)) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
