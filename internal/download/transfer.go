package download

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	connectTimeout    = 10 * time.Second
	maxRedirects      = 10
	keepAliveInterval = 60 * time.Second
	stallTimeout      = 10 * time.Second
	minStallBytes     = 1 // 1 B/s floor for the low-speed stall guard
)

// newTransport builds a per-attempt *http.Transport with idle-connection
// tuning plus TCP keepalive and TLS settings for this payload.
func newTransport(tlsConfig *tls.Config) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: keepAliveInterval,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       tlsConfig,
	}
}

// newClient builds a per-attempt *http.Client following redirects up to
// maxRedirects.
func newClient(tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Transport: newTransport(tlsConfig),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errors.Newf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// userAgent returns the configured User-Agent from the HTTP_USER_AGENT
// environment variable, if set.
func userAgent() string {
	return os.Getenv("HTTP_USER_AGENT")
}

// attemptPlan is the outcome of the resume/freshness decision, evaluated
// once per attempt before the request is built.
type attemptPlan struct {
	conditionalSince time.Time // zero if not set
	resumeOffset     int64     // 0 if not resuming
	mode             openMode
}

// planAttempt implements the three-way resume/freshness decision, in
// order: conditional-GET against an existing destination, resume from
// an existing .part, or a fresh attempt.
func planAttempt(p *Payload) attemptPlan {
	if !p.AllowResume && !p.Force {
		if fi, err := os.Stat(p.DestPath); err == nil {
			return attemptPlan{conditionalSince: fi.ModTime(), mode: openModeWrite}
		}
	}

	if p.AllowResume {
		if fi, err := os.Stat(partPath(p.DestPath)); err == nil {
			return attemptPlan{resumeOffset: fi.Size(), mode: openModeAppend}
		}
	}

	return attemptPlan{mode: openModeWrite}
}

// buildRequest constructs the *http.Request for one attempt, applying
// the conditional-GET / resume headers planAttempt decided on, plus
// optional basic auth: userinfo already on the URL is used as is;
// otherwise p.Username/p.Password are applied when Username is set.
func buildRequest(ctx context.Context, p *Payload, plan attemptPlan) (*http.Request, error) {
	u, err := url.Parse(p.FileURL)
	if err != nil {
		return nil, WithKind(errors.Wrapf(err, "parse url %s", p.FileURL), KindServerBadURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, WithKind(errors.Wrap(err, "build request"), KindServerBadURL)
	}

	if ua := userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	if !plan.conditionalSince.IsZero() {
		req.Header.Set("If-Modified-Since", plan.conditionalSince.UTC().Format(http.TimeFormat))
	}
	if plan.resumeOffset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(plan.resumeOffset, 10)+"-")
	}
	if p.MaxSize > 0 {
		req.Header.Set("X-Max-Size-Hint", strconv.FormatInt(p.MaxSize, 10))
	}

	if u.User == nil && p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
		req.URL.User = u.User
	}

	if u.User != nil {
		if pass, ok := u.User.Password(); ok {
			req.SetBasicAuth(u.User.Username(), pass)
		}
	}

	return req, nil
}

// parseContentDisposition extracts the filename parameter from a
// Content-Disposition header value: terminated by ";", CR, LF,
// or end of line, with a surrounding pair of double quotes stripped.
func parseContentDisposition(header string) string {
	const marker = "filename="
	lower := strings.ToLower(header)
	idx := strings.Index(lower, marker)
	if idx < 0 {
		return ""
	}
	rest := header[idx+len(marker):]
	end := strings.IndexAny(rest, ";\r\n")
	if end >= 0 {
		rest = rest[:end]
	}
	rest = strings.TrimSpace(rest)
	if len(rest) >= 2 && rest[0] == '"' && rest[len(rest)-1] == '"' {
		rest = rest[1 : len(rest)-1]
	}
	return rest
}

// applyHeaderSink extracts Content-Disposition and caches the response
// code. net/http delivers the full header set before the body reader is
// returned, so this runs once per response rather than once per header
// line.
func applyHeaderSink(p *Payload, resp *http.Response) {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if name := parseContentDisposition(cd); name != "" {
			p.ContentDispName = name
		}
	}
	p.RespCode = resp.StatusCode
}

// stallGuard cancels its derived context if stallTimeout passes without
// at least minStallBytes read, mirroring curl's CURLOPT_LOW_SPEED_LIMIT
// / CURLOPT_LOW_SPEED_TIME ("1 B/s for 10s"). Disableable per payload
// (Config.DisableStallTimeout / disable_dl_timeout in the C source).
type stallGuard struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
	timeout time.Duration
	stalled bool
}

func newStallGuard(ctx context.Context, disabled bool) *stallGuard {
	return newStallGuardTimeout(ctx, disabled, stallTimeout)
}

// newStallGuardTimeout is newStallGuard with an explicit timeout, split
// out so tests can exercise the watchdog firing without waiting out the
// real stallTimeout.
func newStallGuardTimeout(ctx context.Context, disabled bool, timeout time.Duration) *stallGuard {
	if disabled {
		return &stallGuard{ctx: ctx, cancel: func() {}}
	}
	g := &stallGuard{timeout: timeout}
	g.ctx, g.cancel = context.WithCancel(ctx)
	g.timer = time.AfterFunc(timeout, func() {
		g.stalled = true
		g.cancel()
	})
	return g
}

// progress resets the watchdog on forward progress; n is the byte count
// from the most recent Read.
func (g *stallGuard) progress(n int) {
	if g.timer != nil && n >= minStallBytes {
		g.timer.Reset(g.timeout)
	}
}

func (g *stallGuard) stop() {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.cancel()
}

// countingReader wraps a response body, implementing the progress
// sink: it enforces MaxSize, honors the interrupt flag, resets the
// stall watchdog, and emits PROGRESS events, deduped against the
// payload's previously reported cumulative size.
type countingReader struct {
	ctx        context.Context
	rc         io.ReadCloser
	p          *Payload
	total      int64 // -1 if unknown
	read       int64
	eventFn    EventFunc
	redirected bool
	stall      *stallGuard
}

func newCountingReader(ctx context.Context, rc io.ReadCloser, p *Payload, total int64, redirectBody bool, eventFn EventFunc, stall *stallGuard) *countingReader {
	return &countingReader{ctx: ctx, rc: rc, p: p, total: total, eventFn: eventFn, redirected: redirectBody, stall: stall}
}

func (r *countingReader) Read(buf []byte) (int, error) {
	// Redirect bodies never emit progress or abort on size; signature
	// transfers never emit progress but still honor MaxSize. Both still
	// count toward the stall watchdog.
	if r.redirected {
		n, err := r.rc.Read(buf)
		r.stall.progress(n)
		return n, err
	}
	if r.p.Signature {
		n, err := r.rc.Read(buf)
		r.stall.progress(n)
		r.read += int64(n)
		if r.p.MaxSize > 0 && r.p.InitialSize+r.read > r.p.MaxSize {
			setInterrupt(abortOverMaxFileSize)
			return n, newKindError(KindTransport, "transfer exceeds max_size %d", r.p.MaxSize)
		}
		return n, err
	}

	// Only SIGINT aborts every in-flight read; an over-max abort belongs to
	// the one payload whose read went past its MaxSize.
	if currentInterrupt() == abortSigint {
		return 0, context.Canceled
	}

	n, err := r.rc.Read(buf)
	r.stall.progress(n)
	if n > 0 {
		r.read += int64(n)

		if r.p.MaxSize > 0 && r.p.InitialSize+r.read > r.p.MaxSize {
			setInterrupt(abortOverMaxFileSize)
			return n, newKindError(KindTransport, "transfer exceeds max_size %d", r.p.MaxSize)
		}

		if r.eventFn != nil && r.read != r.p.prevProgress {
			r.p.prevProgress = r.read
			emit(r.eventFn, r.p.RemoteName, EventProgress, EventData{Downloaded: r.read, Total: r.total})
		}
	}
	return n, err
}

func (r *countingReader) Close() error {
	return r.rc.Close()
}

// responseTotal returns Content-Length, or -1 if unknown.
func responseTotal(resp *http.Response) int64 {
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	return -1
}

// parseLastModified extracts the Last-Modified header, if present.
func parseLastModified(resp *http.Response) (time.Time, bool) {
	lm := resp.Header.Get("Last-Modified")
	if lm == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(http.TimeFormat, lm)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
