package reverse

import (
	"log/slog"
	"net/http"
	"strings"
)

// DefaultCookieName is the affinity cookie used when none is configured.
const DefaultCookieName = "tinyp"

// ErrorResponder lets the engine surface a rejection to the client without
// knowing how responses are written.
type ErrorResponder interface {
	RespondError(status int, title string, details map[string]string)
}

// Conn carries per-request state shared between the rewrite step and the
// response stage. It lives for a single request/response cycle.
type Conn struct {
	// ReversePath is the path of the rule that satisfied this request. The
	// response stage reads it to set or refresh the affinity cookie.
	ReversePath string

	// ViaCookie is true when the tracking cookie, not a direct match,
	// determined the route.
	ViaCookie bool

	// Responder receives the 400 emitted when a request is rejected under
	// reverse-only mode.
	Responder ErrorResponder
}

// RejectedError reports a request refused under reverse-only mode.
type RejectedError struct {
	URL string
}

func (e *RejectedError) Error() string {
	return "no reverse proxy rule matches " + e.URL
}

// Options configures a Rewriter.
type Options struct {
	// ReverseOnly rejects requests that match no rule instead of passing
	// them through as a forward proxy would.
	ReverseOnly bool

	// MagicCookie enables the tracking-cookie fallback: when no rule matches
	// the request URL directly, the affinity cookie may pin the client to a
	// previously matched path.
	MagicCookie bool

	// CookieName overrides DefaultCookieName.
	CookieName string

	Logger *slog.Logger
}

// Rewriter maps inbound request targets to outbound backend URLs using a
// Table. It is a pure decision function plus log/error emission: no retries,
// no I/O beyond the responder callback.
type Rewriter struct {
	table       *Table
	reverseOnly bool
	magic       bool
	cookieName  string
	logger      *slog.Logger
}

func NewRewriter(table *Table, opts Options) *Rewriter {
	name := opts.CookieName
	if name == "" {
		name = DefaultCookieName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rewriter{
		table:       table,
		reverseOnly: opts.ReverseOnly,
		magic:       opts.MagicCookie,
		cookieName:  name,
		logger:      logger,
	}
}

// Rewrite returns the outbound URL for requestURL. Only absolute-path targets
// (starting with "/") are eligible for reverse rewriting; absolute-URI targets
// pass through untouched. When no rule matches and reverse-only mode is on,
// the responder on c receives an HTTP 400 and a *RejectedError is returned.
// Otherwise a miss passes the original URL through for forward proxying.
func (rw *Rewriter) Rewrite(c *Conn, headers http.Header, requestURL string) (string, error) {
	var rewritten string
	var rule Rule
	var found bool

	if strings.HasPrefix(requestURL, "/") {
		// First try locating the reverse mapping by request URL.
		rule, found = rw.table.FindRule(requestURL)
		if found {
			rewritten = rule.BackendURL + requestURL[len(rule.Path):]
		} else if rw.magic {
			if cookie := headers.Get("Cookie"); cookie != "" {
				marker := rw.cookieName + "="
				if i := strings.Index(cookie, marker); i >= 0 {
					// No direct match - try the tracking cookie next.
					rule, found = rw.table.FindRule(cookie[i+len(marker):])
					if found {
						// Strips only the leading slash of the original URL,
						// not the matched rule's path length. This asymmetry
						// with the direct-match composition above is kept on
						// purpose; see DESIGN.md.
						rewritten = rule.BackendURL + requestURL[1:]
						c.ViaCookie = true
						rw.logger.Info("tracking cookie determined the route", "path", rule.Path)
					}
				}
			}
		}
	}

	// Forward proxy support off and no reverse path match found.
	if rw.reverseOnly && rewritten == "" {
		rw.logger.Error("bad request", "url", requestURL)
		if c.Responder != nil {
			c.Responder.RespondError(http.StatusBadRequest, "Bad Request", map[string]string{
				"detail": "Request has an invalid URL",
				"url":    requestURL,
			})
		}
		return "", &RejectedError{URL: requestURL}
	}

	rw.logger.Debug("rewriting URL", "from", requestURL, "to", rewritten)

	if rewritten == "" {
		// Pass through unchanged: forward-proxy request.
		return requestURL, nil
	}

	// Record the matched path so the response stage can set the affinity
	// cookie for this client.
	if rw.magic && found {
		c.ReversePath = rule.Path
	}
	return rewritten, nil
}
