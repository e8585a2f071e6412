package download

import (
	"context"
	"crypto/tls"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
)

// FetchResult mirrors the three-way outcome of a user-supplied FetchFunc.
type FetchResult int

const (
	// FetchDownloaded means the callback fetched a new copy.
	FetchDownloaded FetchResult = 0
	// FetchUpToDate means the callback found the local copy current.
	FetchUpToDate FetchResult = 1
	// FetchFailed means the callback failed.
	FetchFailed FetchResult = -1
)

// FetchFunc is a user-supplied override that, when non-nil, fully
// replaces the built-in engine for DownloadOne and DownloadMany.
type FetchFunc func(ctx context.Context, fileURL, cacheDir string, force bool) (FetchResult, error)

const sigMaxSize = 16 * 1024 // 16 KiB cap on a detached signature sidecar

// DownloadOne executes a single payload against its current server URL.
// If fetchFn is non-nil, the fetch is delegated to it entirely and the
// built-in engine never runs.
//
// It returns the basename actually written at the destination and the
// post-redirect effective URL.
func DownloadOne(ctx context.Context, p *Payload, cacheDir string, fetchFn FetchFunc, eventFn EventFunc) (finalName, finalURL string, result Result, err error) {
	if fetchFn != nil {
		fr, ferr := fetchFn(ctx, p.FileURL, cacheDir, p.Force)
		return filepath.Base(p.DestPath), p.FileURL, Result(fr), ferr
	}

	if len(p.Servers) == 0 {
		err = newKindError(KindServerNone, "payload %s has no servers", p.FilePath)
		return "", "", ResultFailed, err
	}

	shield := installSignalShield()
	clearInterrupt()
	defer shield.release()

	emit(eventFn, p.RemoteName, EventInit, EventData{})

	result, err = runAttempt(ctx, p, cacheDir, eventFn)

	completedResult := result
	if err != nil {
		completedResult = ResultFailed
	}
	emit(eventFn, p.RemoteName, EventCompleted, EventData{Total: totalOrUnknown(p), Result: completedResult})

	p.LastError = err
	return filepath.Base(p.DestPath), p.EffectiveURL, result, err
}

// downloadManyFallback runs a sequential per-mirror loop using fetchFn,
// accepting the first mirror that reports success.
func downloadManyFallback(ctx context.Context, payloads []*Payload, cacheDir string, fetchFn FetchFunc, eventFn EventFunc) error {
	var firstErr error
	for _, p := range payloads {
		emit(eventFn, p.RemoteName, EventInit, EventData{Optional: p.ErrorsOk})

		var result Result
		var err error
		for _, server := range p.Servers {
			p.FileURL = joinURL(server, p.FilePath)
			var fr FetchResult
			fr, err = fetchFn(ctx, p.FileURL, cacheDir, p.Force)
			result = Result(fr)
			if err == nil {
				break
			}
		}

		p.LastError = err
		completed := result
		if err != nil {
			completed = ResultFailed
		}
		emit(eventFn, p.RemoteName, EventCompleted, EventData{Result: completed})

		if err != nil && !p.ErrorsOk && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Fetch drives payloads to completion: DownloadMany's built-in path when
// fetchFn is nil, or a sequential per-mirror fetchFn fallback otherwise.
func Fetch(ctx context.Context, payloads []*Payload, cacheDir string, opts Options, fetchFn FetchFunc) error {
	if fetchFn != nil {
		return downloadManyFallback(ctx, payloads, cacheDir, fetchFn, opts.OnEvent)
	}
	opts.CacheDir = cacheDir
	return DownloadMany(ctx, payloads, opts)
}

// FetchPkgURL is the high-level convenience entry
// point: it consults the cache first by the URL's basename; if absent,
// downloads the artifact (allow_resume, trust_remote_name), then
// conditionally fetches a ".sig" sidecar.
//
// sigPackage selects whether a detached signature is fetched at all, and
// sigPackageOptional makes a failed signature fetch non-fatal.
func FetchPkgURL(ctx context.Context, rawURL, cacheDir string, sigPackage, sigPackageOptional bool, tlsConfig *tls.Config, eventFn EventFunc) (string, error) {
	base := filenameOf(rawURL)
	cachedPath := filepath.Join(cacheDir, base)

	if _, err := os.Stat(cachedPath); err == nil {
		return base, nil
	}

	pkg := NewPayload(base, []string{dirOf(rawURL)}, cachedPath)
	pkg.AllowResume = true
	pkg.TrustRemoteName = true
	pkg.TLSConfig = tlsConfig

	finalName, effURL, _, err := DownloadOne(ctx, pkg, cacheDir, nil, eventFn)
	if err != nil {
		return "", err
	}

	if sigPackage {
		sigURL := effURL + ".sig"
		sigDest := filepath.Join(cacheDir, finalName+".sig")
		sig := NewPayload(finalName+".sig", []string{dirOf(sigURL)}, sigDest)
		sig.Force = true
		sig.Signature = true
		sig.MaxSize = sigMaxSize
		sig.ErrorsOk = sigPackageOptional
		sig.TLSConfig = tlsConfig

		_, _, _, sigErr := DownloadOne(ctx, sig, cacheDir, nil, eventFn)
		if sigErr != nil && !sigPackageOptional {
			return "", errors.Wrap(sigErr, "signature fetch")
		}
	}

	return finalName, nil
}

// dirOf returns rawURL with its final path segment removed, leaving a
// trailing slash, so it can be used as a Payload's sole "server".
func dirOf(rawURL string) string {
	if i := lastSlash(rawURL); i >= 0 {
		return rawURL[:i+1]
	}
	return rawURL
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
