package fetchctl

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/caseorum/dlengine/internal/download"
)

const (
	lockFilename = ".lock"
)

var validID = regexp.MustCompile(`^[a-z0-9_-]+$`)

// IsValidID checks if the given ID is valid for use as a target identifier.
func IsValidID(id string) bool {
	return validID.MatchString(id)
}

// validateLockFilePath validates that a lock file path is safe for use.
// It prevents directory traversal attacks by ensuring the path is within the config directory.
func validateLockFilePath(lockFile, baseDir string) error {
	cleanLock := filepath.Clean(lockFile)
	cleanBase := filepath.Clean(baseDir)

	if strings.Contains(lockFile, "..") {
		return errors.New("unsafe lock file path (contains directory traversal): " + lockFile)
	}

	if !strings.HasPrefix(cleanLock, cleanBase) {
		return errors.New("lock file path outside of base directory: " + lockFile)
	}

	return nil
}

// TargetResult summarizes the outcome of fetching one configured target.
type TargetResult struct {
	ID     string
	Err    error
	Synced bool
}

const sigSuffix = ".sig"
const sigMaxSize = 16 * 1024 // 16 KiB, matching download.FetchPkgURL's own sidecar bound

// buildPayload translates a TargetConfig into a download.Payload rooted at
// dir, plus a second payload for its ".sig" sidecar when tc.SigPackage is
// set (mirroring download.FetchPkgURL's own sig-policy handling for
// targets driven by the config file rather than a lone URL).
func buildPayload(dir, targetID string, tc *TargetConfig, globalTLS *TLSConfig, forceAll, disableStallTimeout bool) (pkg, sig *download.Payload, err error) {
	if err := tc.Check(); err != nil {
		return nil, nil, errors.Wrapf(err, "target %q", targetID)
	}

	servers := tc.BaseURLs()
	if len(servers) == 0 {
		return nil, nil, errors.Newf("target %q: no resolvable servers", targetID)
	}

	effTLS := tc.GetEffectiveTLSConfig(globalTLS)
	tlsConfig, err := effTLS.BuildTLSConfig()
	if err != nil {
		return nil, nil, errors.Wrapf(err, "target %q: TLS", targetID)
	}

	pkg = download.NewPayload(tc.FilePath, servers, filepath.Join(dir, tc.FilePath))
	pkg.AllowResume = tc.AllowResume
	pkg.Force = tc.Force || forceAll
	pkg.TrustRemoteName = tc.TrustRemoteName
	pkg.MaxSize = tc.MaxSize
	pkg.ErrorsOk = tc.ErrorsOk
	pkg.TLSConfig = tlsConfig
	pkg.Username = tc.Username
	pkg.Password = tc.Password
	pkg.DisableStallTimeout = disableStallTimeout

	if tc.SigPackage {
		sigPath := tc.FilePath + sigSuffix
		sig = download.NewPayload(sigPath, servers, filepath.Join(dir, sigPath))
		sig.Force = true
		sig.Signature = true
		sig.MaxSize = sigMaxSize
		sig.ErrorsOk = tc.SigPackageOptional
		sig.TLSConfig = tlsConfig
		sig.Username = tc.Username
		sig.Password = tc.Password
		sig.DisableStallTimeout = disableStallTimeout
	}

	return pkg, sig, nil
}

// fetchJob pairs a built payload with the target ID and sig-ness the
// caller needs to fold DownloadMany's per-payload outcome back into a
// per-target TargetResult.
type fetchJob struct {
	targetID string
	isSig    bool
	payload  *download.Payload
}

// fetchTargets downloads every named target (plus any ".sig" sidecars)
// concurrently, bounded by config.MaxConns, and reports one result per
// target: a target is Synced only if its package transfer succeeded and,
// when sig_package is set and not optional, its signature did too.
func fetchTargets(ctx context.Context, config *Config, targetIDs []string, forceAll bool, progress download.EventFunc) ([]TargetResult, error) {
	jobs := make([]fetchJob, 0, len(targetIDs))

	for _, id := range targetIDs {
		tc, ok := config.Targets[id]
		if !ok {
			return nil, errors.Newf("unknown target %q", id)
		}
		pkg, sig, err := buildPayload(config.Dir, id, tc, &config.TLS, forceAll, config.DisableStallTimeout)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, fetchJob{targetID: id, payload: pkg})
		if sig != nil {
			jobs = append(jobs, fetchJob{targetID: id, isSig: true, payload: sig})
		}
	}

	payloads := make([]*download.Payload, len(jobs))
	for i, j := range jobs {
		payloads[i] = j.payload
	}

	var mu sync.Mutex
	err := download.DownloadMany(ctx, payloads, download.Options{
		MaxConns: config.MaxConns,
		CacheDir: config.Dir,
		OnEvent: func(ev download.Event) {
			mu.Lock()
			defer mu.Unlock()
			if progress != nil {
				progress(ev)
			}
		},
	})

	byID := make(map[string]*TargetResult, len(targetIDs))
	var order []string
	for _, j := range jobs {
		tr, ok := byID[j.targetID]
		if !ok {
			tr = &TargetResult{ID: j.targetID, Synced: true}
			byID[j.targetID] = tr
			order = append(order, j.targetID)
		}
		if j.payload.LastError != nil {
			if !j.isSig || !j.payload.ErrorsOk {
				tr.Synced = false
				if tr.Err == nil {
					tr.Err = j.payload.LastError
				}
			} else {
				slog.Warn("optional signature fetch failed", "target", j.targetID, "error", j.payload.LastError)
			}
		}
	}

	results := make([]TargetResult, 0, len(order))
	for _, id := range order {
		results = append(results, *byID[id])
	}

	return results, err
}

// Run acquires the lock file and downloads the requested targets.
//
// targetIDs is a list of target IDs defined in the configuration file
// (keys of config.Targets). If targetIDs is empty, all configured
// targets are fetched.
func Run(ctx context.Context, config *Config, targetIDs []string, forceAll bool, progress download.EventFunc) ([]TargetResult, error) {
	lockFile := filepath.Join(config.Dir, lockFilename)

	if err := validateLockFilePath(lockFile, config.Dir); err != nil {
		return nil, errors.Wrap(err, "Run")
	}

	file, err := os.Open(lockFile) // #nosec G304 - lockFile path is validated by validateLockFilePath
	switch {
	case os.IsNotExist(err):
		file2, ferr := os.OpenFile(lockFile, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644) // #nosec G304,G302 - lockFile path validated, 0644 standard for lock files
		if ferr != nil {
			return nil, ferr
		}
		file = file2
	case err != nil:
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close lock file", "error", err)
		}
	}()

	fileLock := Flock{file}
	if err := fileLock.Lock(); err != nil {
		return nil, err
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			slog.Warn("failed to unlock file", "error", err)
		}
	}()

	if len(targetIDs) == 0 {
		for id := range config.Targets {
			targetIDs = append(targetIDs, id)
		}
	}

	slog.Info("fetch starts", "targets", len(targetIDs))
	group, gctx := errgroup.WithContext(ctx)
	var results []TargetResult
	group.Go(func() error {
		r, err := fetchTargets(gctx, config, targetIDs, forceAll, progress)
		results = r
		return err
	})
	err = group.Wait()
	slog.Info("fetch ends")
	return results, err
}
