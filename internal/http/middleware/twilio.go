package middleware

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v4"

	"github.com/careloop/caring-relay/internal/audit"
	"github.com/careloop/caring-relay/internal/sms"
)

// TwilioSignatureMiddleware rejects webhook calls whose X-Twilio-Signature
// does not match the posted form.  baseURL is the externally visible
// origin Twilio signed against; when empty the request's own scheme and
// host are used (dev only, proxies break it).
func TwilioSignatureMiddleware(validator *sms.SignatureValidator, baseURL string, a *audit.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if err := req.ParseForm(); err != nil {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed form"})
			}
			params := make(map[string]string, len(req.PostForm))
			for k, vs := range req.PostForm {
				if len(vs) > 0 {
					params[k] = vs[0]
				}
			}

			url := signedURL(req, baseURL, c)
			sig := req.Header.Get("X-Twilio-Signature")
			if !validator.Valid(url, params, sig) {
				a.Entry("webhook request not from Twilio", "error", map[string]any{
					"path": req.URL.Path,
				})
				return c.NoContent(http.StatusForbidden)
			}
			return next(c)
		}
	}
}

func signedURL(req *http.Request, baseURL string, c echo.Context) string {
	if baseURL != "" {
		return strings.TrimRight(baseURL, "/") + req.URL.RequestURI()
	}
	scheme := c.Scheme()
	return scheme + "://" + req.Host + req.URL.RequestURI()
}
