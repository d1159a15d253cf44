package builtin

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/spudy-vibing/Capsule-Agent-Tool-Runner/internal/tool"
)

// HTTPGet implements http.get. The Policy Engine has already resolved and
// pinned the host's address (tctx.PinnedIP); this tool dials that exact
// address rather than re-resolving, which is the DNS-rebinding defense
// spec.md §4.1 rule 3 requires. Re-evaluation of the policy on redirect to
// a different host goes through Reevaluate, called from the CheckRedirect
// hook this tool installs.
type HTTPGet struct {
	// Reevaluate re-checks policy before following a redirect. Supplied by
	// the CLI's registry wiring (internal/cli) so this tool package never
	// imports internal/policy directly.
	Reevaluate func(ctx context.Context, toolName string, from, to *url.URL) (pinnedIP net.IP, allowed bool, reason string, err error)
}

func (HTTPGet) Name() string        { return "http.get" }
func (HTTPGet) Description() string { return "Perform an HTTP GET request." }

func (HTTPGet) Schema() tool.ArgSchema {
	return tool.ArgSchema{Fields: []tool.ArgField{
		{Name: "url", Type: "string", Required: true},
		{Name: "headers", Type: "object", Required: false},
	}}
}

func (h HTTPGet) Execute(ctx context.Context, args map[string]any, tctx *tool.Context) (tool.Output, error) {
	rawURL, ok := args["url"].(string)
	if !ok || rawURL == "" {
		return tool.Output{}, tool.NewValidationError("url is missing or not a string")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("url could not be parsed: %v", err))
	}

	pinned := tctx.PinnedIP
	currentHost := parsed.Hostname()

	client := &http.Client{
		Timeout: timeoutFor(tctx),
		Transport: &http.Transport{
			DialContext: func(dialCtx context.Context, network, addr string) (net.Conn, error) {
				_, port, err := net.SplitHostPort(addr)
				if err != nil {
					port = defaultPortFor(parsed.Scheme)
				}
				dialer := &net.Dialer{}
				if pinned != nil {
					return dialer.DialContext(dialCtx, network, net.JoinHostPort(pinned.String(), port))
				}
				return dialer.DialContext(dialCtx, network, addr)
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) == 0 {
				return nil
			}
			from := via[len(via)-1].URL
			to := req.URL

			if err := checkSchemeDowngrade(from, to); err != nil {
				return err
			}
			if to.Hostname() == currentHost {
				return nil // same host, same-or-better scheme: spec.md §9 decision, skip re-evaluation
			}
			if h.Reevaluate == nil {
				return fmt.Errorf("redirect to new host %q cannot be re-evaluated", to.Hostname())
			}

			newPin, allowed, reason, err := h.Reevaluate(req.Context(), "http.get", from, to)
			if err != nil {
				return fmt.Errorf("redirect re-evaluation failed: %w", err)
			}
			if !allowed {
				return fmt.Errorf("redirect denied: %s", reason)
			}
			pinned = newPin
			currentHost = to.Hostname()
			return nil
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("request could not be built: %v", err))
	}
	req.Host = parsed.Hostname()
	if headers, ok := args["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("request failed: %v", err))
	}
	defer resp.Body.Close()

	maxBytes := maxResponseBytesFor(tctx)
	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, int64(maxBytes)+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return tool.Output{}, tool.NewValidationError(fmt.Sprintf("reading response body: %v", err))
	}
	if maxBytes > 0 && uint64(len(body)) > maxBytes {
		return tool.Output{}, tool.NewValidationError("response exceeds max_response_bytes")
	}

	headers := make(map[string]any, len(resp.Header))
	for k, v := range resp.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	return tool.Output{Success: true, Data: map[string]any{
		"status":     resp.StatusCode,
		"headers":    headers,
		"body":       string(body),
		"bytes_read": len(body),
	}}, nil
}

func maxResponseBytesFor(tctx *tool.Context) uint64 {
	if tctx == nil || tctx.Policy == nil {
		return 0
	}
	tp, ok := tctx.Policy.Tools["http.get"]
	if !ok || tp.Http == nil {
		return 0
	}
	return tp.Http.MaxResponseBytes
}

// checkSchemeDowngrade denies a redirect that drops from https to http,
// unconditionally and before any same-host/cross-host distinction (spec.md
// §4.1 rule 5: "A redirect that changes scheme from https to http is
// denied").
func checkSchemeDowngrade(from, to *url.URL) error {
	if from.Scheme == "https" && to.Scheme == "http" {
		return fmt.Errorf("redirect denied: scheme downgrade from https to http")
	}
	return nil
}

func defaultPortFor(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

func timeoutFor(tctx *tool.Context) time.Duration {
	if tctx == nil || tctx.Policy == nil {
		return 0
	}
	tp, ok := tctx.Policy.Tools["http.get"]
	if !ok || tp.Http == nil || tp.Http.TimeoutSeconds == 0 {
		return 0
	}
	return time.Duration(tp.Http.TimeoutSeconds) * time.Second
}
