package download

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// runAttempt executes one payload against its current server URL
// (p.FileURL): open temp, request, copy, verify size, rename, dirsync. It does not
// install the signal shield or emit INIT/COMPLETED events — those are
// the caller's responsibility (DownloadOne for a lone attempt, the
// parallel driver across a scheduling loop) since the shield and INIT
// event have different scopes (per-call vs. per-loop).
//
// It reports (ResultSuccess, nil) on a fresh or resumed download,
// (ResultUpToDate, nil) when the conditional-GET found the local copy
// current, or (ResultFailed, err) otherwise. err is always classified
// with a Kind (see errors.go) so callers can decide mirror-failover
// eligibility.
func runAttempt(ctx context.Context, p *Payload, cacheDir string, eventFn EventFunc) (Result, error) {
	if p.RemoteName == "" {
		p.RemoteName = filenameOf(p.FileURL)
	}

	if _, err := hostOf(p.FileURL); err != nil {
		return ResultFailed, err
	}

	plan := planAttempt(p)

	tempFile, tempPath, err := openAttemptTemp(p, cacheDir, plan)
	if err != nil {
		return ResultFailed, err
	}
	p.localFile = tempFile
	p.TempPath = tempPath
	p.tempMode = plan.mode
	if plan.mode == openModeAppend {
		p.InitialSize = plan.resumeOffset
	}

	// Step 5: short-circuit when the local copy is already exactly
	// max_size bytes — declare success without requesting any bytes.
	if p.MaxSize > 0 && p.InitialSize == p.MaxSize {
		p.closeLocalFile()
		return ResultSuccess, nil
	}

	guard := newStallGuard(ctx, p.DisableStallTimeout)
	defer guard.stop()

	req, err := buildRequest(guard.ctx, p, plan)
	if err != nil {
		p.closeLocalFile()
		cleanupTemp(tempPath)
		return ResultFailed, err
	}

	client := newClient(p.TLSConfig)

	resp, err := client.Do(req)
	if err != nil {
		p.closeLocalFile()
		result, ferr := classifyTransportErr(p, tempPath, err)
		if guard.stalled {
			ferr = newKindError(KindTransport, "stalled: no forward progress for %s", stallTimeout)
		}
		return result, ferr
	}
	defer resp.Body.Close()

	applyHeaderSink(p, resp)

	if resp.StatusCode == http.StatusNotModified {
		p.closeLocalFile()
		cleanupTemp(tempPath)
		return ResultUpToDate, nil
	}

	if resp.StatusCode >= 400 {
		p.closeLocalFile()
		p.UnlinkOnFail = true
		cleanupTemp(tempPath)
		err := newKindError(KindRetrieve, "The requested URL returned error: %d", resp.StatusCode)
		if p.ErrorsOk {
			return ResultFailed, err
		}
		return ResultFailed, err
	}

	total := responseTotal(resp)
	reader := newCountingReader(guard.ctx, resp.Body, p, total, false, eventFn, guard)

	written, copyErr := io.Copy(tempFile, reader)
	if copyErr != nil {
		p.closeLocalFile()
		result, ferr := classifyCopyErr(p, tempPath, written, copyErr)
		if guard.stalled {
			ferr = newKindError(KindTransport, "stalled: no forward progress for %s", stallTimeout)
		}
		return result, ferr
	}

	if total >= 0 && written != total {
		p.closeLocalFile()
		cleanupTemp(tempPath)
		return ResultFailed, newKindError(KindRetrieve, "transfer truncated: got %d, expected %d", written, total)
	}

	applyTrustRemoteName(p, resp)
	p.EffectiveURL = resp.Request.URL.String()

	p.closeLocalFile()

	if lm, ok := parseLastModified(resp); ok {
		_ = os.Chtimes(tempPath, lm, lm)
	}

	if err := ensureParentDir(p.DestPath); err != nil {
		return ResultFailed, WithKind(errors.Wrap(err, "prepare dest dir"), KindSystem)
	}
	if err := os.Rename(tempPath, p.DestPath); err != nil {
		// Rename failure leaves the temp file in place (no unlink_on_fail
		// on this path) so nothing already written to disk is silently lost.
		return ResultFailed, WithKind(errors.Wrap(err, "rename to dest"), KindSystem)
	}

	if err := dirSync(p.finalDestDir()); err != nil {
		return ResultFailed, WithKind(errors.Wrap(err, "dirsync dest dir"), KindSystem)
	}

	return ResultSuccess, nil
}

// openAttemptTemp opens the working tempfile for one attempt: resuming
// reopens the existing .part for append; a normally-named artifact gets
// a fresh .part; an empty/".sig"-literal remote name falls back to a
// random tempfile with UnlinkOnFail forced on.
func openAttemptTemp(p *Payload, cacheDir string, plan attemptPlan) (*os.File, string, error) {
	if plan.mode == openModeAppend {
		path := partPath(p.DestPath)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0666) // #nosec G302 - resumable part file
		if err != nil {
			return nil, "", WithKind(errors.Wrap(err, "reopen part file"), KindSystem)
		}
		return f, path, nil
	}

	if p.RemoteName != "" && p.RemoteName != ".sig" {
		if err := ensureParentDir(p.DestPath); err != nil {
			return nil, "", WithKind(errors.Wrap(err, "prepare dest dir"), KindSystem)
		}
		path := partPath(p.DestPath)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0666) // #nosec G302 - standard .part convention
		if err != nil {
			return nil, "", WithKind(errors.Wrap(err, "create part file"), KindSystem)
		}
		return f, path, nil
	}

	f, path, err := createTempfile(cacheDir)
	if err != nil {
		return nil, "", err
	}
	p.UnlinkOnFail = true
	return f, path, nil
}

// applyTrustRemoteName prefers a Content-Disposition filename, falling
// back to the post-redirect URL's tail when it differs meaningfully
// from the current destination tail.
func applyTrustRemoteName(p *Payload, resp *http.Response) {
	if !p.TrustRemoteName {
		return
	}

	var finalName string
	if p.ContentDispName != "" {
		finalName = p.ContentDispName
	} else if resp.Request != nil && resp.Request.URL != nil {
		tail := filenameOf(resp.Request.URL.String())
		if len(tail) > 1 && tail != filepath.Base(p.DestPath) {
			finalName = tail
		}
	}

	if finalName != "" && finalName != filepath.Base(p.DestPath) {
		p.DestPath = filepath.Join(p.finalDestDir(), finalName)
	}
}

// classifyTransportErr distinguishes a DNS/resolve failure from any
// other transport error net/http surfaces before a response is received.
func classifyTransportErr(p *Payload, tempPath string, err error) (Result, error) {
	if errors.Is(err, context.Canceled) && currentInterrupt() == abortSigint {
		cleanupTempIfUnlink(p, tempPath)
		return ResultFailed, WithKind(errors.Wrap(err, "interrupted"), KindTransport)
	}

	if fi, statErr := os.Stat(tempPath); statErr == nil && fi.Size() == 0 {
		p.UnlinkOnFail = true
	}
	cleanupTempIfUnlink(p, tempPath)

	kind := KindTransport
	if _, hostErr := hostOf(p.FileURL); hostErr != nil {
		kind = KindServerBadURL
	}
	return ResultFailed, WithKind(errors.Wrap(err, "transport"), kind)
}

// classifyCopyErr implements the ABORT_OVER_MAXFILESIZE / ABORT_SIGINT /
// generic-transport-error rows for failures discovered mid-copy.
func classifyCopyErr(p *Payload, tempPath string, written int64, err error) (Result, error) {
	switch currentInterrupt() {
	case abortOverMaxFileSize:
		p.UnlinkOnFail = true
		cleanupTempIfUnlink(p, tempPath)
		return ResultFailed, newKindError(KindTransport, "size exceeded: max_size %d", p.MaxSize)
	case abortSigint:
		cleanupTempIfUnlink(p, tempPath)
		return ResultFailed, WithKind(errors.Wrap(err, "interrupted"), KindTransport)
	}

	if written == 0 {
		p.UnlinkOnFail = true
	}
	cleanupTempIfUnlink(p, tempPath)
	return ResultFailed, WithKind(errors.Wrap(err, "copy body"), KindTransport)
}

func cleanupTempIfUnlink(p *Payload, tempPath string) {
	if p.UnlinkOnFail {
		cleanupTemp(tempPath)
	}
}
