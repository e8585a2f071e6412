package download

import (
	"crypto/tls"
	"os"
	"path/filepath"
)

// openMode selects whether the temp file is opened fresh or for append
// (resume).
type openMode int

const (
	openModeWrite openMode = iota // "wb"
	openModeAppend                // "ab"
)

// Payload is the per-download state record: one final artifact, with N
// candidate mirrors. A Payload is created by a caller (DownloadOne,
// DownloadMany, FetchPkgURL), mutated only by whichever driver is
// actively attempting it, and finalized (rename + completion event) by
// that same driver.
type Payload struct {
	// FileURL is the absolute URL currently being attempted, rebuilt from
	// Servers[cursor] + FilePath whenever the cursor advances.
	FileURL string

	// FilePath is the path component relative to a mirror root, used to
	// rebuild FileURL on retry against the next server.
	FilePath string

	// Servers is a non-empty ordered list of mirror base URLs. cursor
	// indexes the one currently in use; it only ever advances.
	Servers []string
	cursor  int

	// RemoteName is the display/event name, initialized from the URL tail
	// if the caller left it empty.
	RemoteName string

	// DestPath is the absolute path of the final artifact; TrustRemoteName
	// logic may rewrite it mid-attempt.
	DestPath string
	// TempPath is the absolute path of the in-progress file: DestPath+".part"
	// when RemoteName is non-empty and not ".sig", or a random
	// alpmtmp.XXXXXX file under the cache dir otherwise.
	TempPath string

	// ContentDispName is the filename extracted from Content-Disposition,
	// if any.
	ContentDispName string

	tempMode openMode

	// InitialSize is the byte count already present locally at the start
	// of this attempt (resume offset).
	InitialSize int64
	// prevProgress is the last reported cumulative size, used to dedupe
	// progress events.
	prevProgress int64

	// MaxSize is a hard upper bound on total bytes; 0 means unlimited.
	MaxSize int64

	// RespCode is the last observed HTTP response code.
	RespCode int

	// AllowResume permits appending to an existing .part file.
	AllowResume bool
	// Force overrides the "skip if local copy is current" freshness check.
	Force bool
	// TrustRemoteName lets the server (via Content-Disposition or a
	// redirect tail) dictate the final filename.
	TrustRemoteName bool
	// ErrorsOk marks a failure of this payload as non-fatal to a batch
	// (used for optional signature fetches).
	ErrorsOk bool
	// Signature marks this as a detached-signature fetch: PROGRESS events
	// are suppressed while MaxSize is still enforced. INIT and COMPLETED
	// events are emitted for it as for any other payload.
	Signature bool
	// UnlinkOnFail removes the temp file during cleanup if the transfer
	// ultimately fails.
	UnlinkOnFail bool

	// localFile is the open handle for the active attempt. Present for
	// both drivers (simpler than keeping a driver-local-vs-payload
	// split), so a parallel-driver retry can truncate it directly.
	localFile *os.File

	// LastError records this payload's most recent terminal error, if any.
	LastError error

	// TLSConfig is applied to the per-attempt http.Client's transport.
	TLSConfig *tls.Config

	// EffectiveURL is the post-redirect URL of the last successful
	// attempt, copied out before the response body is closed.
	EffectiveURL string

	// Username and Password, if Username is non-empty, are applied as
	// the request URL's userinfo (HTTP Basic auth), sent only to the
	// host the credentials were configured for.
	Username string
	Password string

	// DisableStallTimeout turns off the low-speed abort for every
	// attempt of this payload.
	DisableStallTimeout bool
}

// NewPayload builds a Payload ready for its first attempt against
// servers[0].
func NewPayload(filePath string, servers []string, destPath string) *Payload {
	p := &Payload{
		FilePath: filePath,
		Servers:  append([]string(nil), servers...),
		DestPath: destPath,
	}
	if len(p.Servers) > 0 {
		p.FileURL = joinURL(p.Servers[0], filePath)
	}
	p.RemoteName = filenameOf(destPath)
	return p
}

// currentServer returns the base URL the cursor currently points at, or
// "" if the cursor has run past the end of Servers.
func (p *Payload) currentServer() (string, bool) {
	if p.cursor >= len(p.Servers) {
		return "", false
	}
	return p.Servers[p.cursor], true
}

// advanceMirror moves the cursor to the next candidate server and rebuilds
// FileURL. It reports whether another server was available.
func (p *Payload) advanceMirror() bool {
	p.cursor++
	base, ok := p.currentServer()
	if !ok {
		return false
	}
	p.FileURL = joinURL(base, p.FilePath)
	return true
}

// joinURL concatenates a mirror base and a relative file path, matching
// the way TargetConfig.Resolve builds candidate URLs (base already ends
// in "/").
func joinURL(base, rel string) string {
	if base == "" {
		return rel
	}
	if len(base) > 0 && base[len(base)-1] == '/' {
		return base + rel
	}
	return base + "/" + rel
}

// Reset zeroes the payload's per-attempt state, returning it to the
// pristine state before any attempt.
func (p *Payload) Reset() {
	p.closeLocalFile()
	p.TempPath = ""
	p.ContentDispName = ""
	p.tempMode = openModeWrite
	p.InitialSize = 0
	p.prevProgress = 0
	p.RespCode = 0
	p.EffectiveURL = ""
}

// ResetForRetry prepares the payload for a retry against the next mirror:
// it preserves accumulated InitialSize semantics are driver-specific
// (the parallel driver truncates the temp file itself before calling
// this), but clears the per-response bookkeeping that must not leak
// across mirrors.
func (p *Payload) ResetForRetry() {
	p.ContentDispName = ""
	p.RespCode = 0
	p.prevProgress = 0
	p.EffectiveURL = ""
}

func (p *Payload) closeLocalFile() {
	if p.localFile != nil {
		_ = p.localFile.Close()
		p.localFile = nil
	}
}

// finalDestDir returns the directory the final artifact will live in,
// used to root a TrustRemoteName rewrite at the same location.
func (p *Payload) finalDestDir() string {
	return filepath.Dir(p.DestPath)
}
