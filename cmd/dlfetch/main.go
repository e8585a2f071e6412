// Package main implements dlfetch, the command-line front end for the
// dlengine download engine.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/caseorum/dlengine/internal/download"
	"github.com/caseorum/dlengine/internal/fetchctl"
)

const defaultConfigPath = "/etc/dlfetch/fetch.toml"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "dlfetch",
	Short: "Fetch package files and signatures from mirror lists",
	Long: `dlfetch fetches package files and their detached signatures from a
list of candidate mirrors into a local cache directory, with resume
support, freshness checks, parallel transfers, and mirror failover.

Find more information at: https://github.com/caseorum/dlengine`,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [target-ids...]",
	Short: "Fetch one or more configured targets",
	Long: `Fetches one or more targets named in the configuration file.

Usage:
  # Fetch every target in the configuration file
  dlfetch fetch

  # Fetch only specific targets
  dlfetch fetch kernel-image release-notes

  # Use a custom configuration file
  dlfetch fetch --config /path/to/fetch.toml

  # Override the log level
  dlfetch fetch --log-level debug

If no target IDs are specified, all targets in the configuration file are
fetched.`,
	Run: runFetch,
}

var fetchURLCmd = &cobra.Command{
	Use:   "fetch-url <url>",
	Short: "Fetch a single package URL directly, bypassing the config file",
	Long: `Fetches a single package URL into a cache directory, consulting the
cache first and optionally fetching a detached ".sig" sidecar, the way
fetch_pkg_url does for a package manager's own package-install path.`,
	Args: cobra.ExactArgs(1),
	Run:  runFetchURL,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long:  `Validate the configuration file and report any issues.`,
	Run:   runValidate,
}

var tlsCheckCmd = &cobra.Command{
	Use:   "tls-check <target-id>",
	Short: "Check TLS configuration and capabilities for a target's first server",
	Long: `Performs a detailed TLS handshake and certificate check against a
configured target's first mirror server. This helps diagnose TLS
connection issues by testing supported TLS versions, negotiated cipher
suites, and examining the certificate chain.

Examples:
  dlfetch tls-check kernel-image`,
	Args: cobra.ExactArgs(1),
	Run:  runTLSCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		printVersion()
	},
}

func printVersion() {
	fmt.Printf("dlfetch %s\n", version)
	fmt.Printf("commit: %s\n", commit)
	fmt.Printf("built: %s\n", buildDate)
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(fetchURLCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(tlsCheckCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")

	fetchCmd.Flags().Bool("force", false, "re-download even if the local copy looks current")
	fetchCmd.Flags().Bool("no-progress", false, "disable progress bars even at an interactive log level")

	fetchURLCmd.Flags().String("cache-dir", "", "cache directory (defaults to the configured dir)")
	fetchURLCmd.Flags().Bool("sig", false, "also fetch the URL's detached .sig sidecar")
	fetchURLCmd.Flags().Bool("sig-optional", false, "a missing/failed signature is not fatal")
	fetchURLCmd.Flags().Bool("insecure-skip-verify", false, "skip TLS certificate verification")
}

// formatError returns a human-friendly error message, optionally with stack trace.
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}
	if flattened := errors.FlattenDetails(err); flattened != "" {
		return flattened
	}
	return err.Error()
}

// loadConfig decodes configPath, applies environment overrides and the
// --log-level/--quiet flags, configures the global logger, and validates
// the result. It is shared by fetch, fetch-url (for its default cache
// dir only; its TLS settings come from flags), validate, and tls-check.
func loadConfig(cmd *cobra.Command) (*fetchctl.Config, error) {
	config := fetchctl.NewConfig()
	md, err := toml.DecodeFile(configPath, config)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "configuration file not found: %s", configPath)
		}
		return nil, errors.Wrap(err, "decode config file")
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Newf("configuration contains unknown keys: %v", undecoded)
	}

	if err := config.ApplyEnvironmentVariables(); err != nil {
		return nil, errors.Wrap(err, "apply environment overrides")
	}

	if logLevel != "" {
		config.Log.Level = logLevel
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
	}
	if err := config.Log.Apply(); err != nil {
		return nil, errors.Wrap(err, "apply log config")
	}

	if err := config.Check(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return config, nil
}

func fatal(cmd *cobra.Command, err error) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")
	slog.Error(formatError(err, verboseErrors))
	if !verboseErrors {
		slog.Info("run with --verbose-errors for detailed stack traces")
	}
	os.Exit(1)
}

// interruptContext returns a context canceled on SIGINT, so the errgroup
// in fetchctl.Run/download.DownloadMany observes cancellation the same
// way the engine's own signal shield does for a lone transfer.
func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT)
}

func runFetch(cmd *cobra.Command, args []string) {
	config, err := loadConfig(cmd)
	if err != nil {
		fatal(cmd, err)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	force, _ := cmd.Flags().GetBool("force")

	var progress download.EventFunc
	var bars *barManager
	if !quiet && !noProgress && config.Log.ShouldShowProgress() {
		bars, err = newBarManager()
		if err != nil {
			slog.Warn("failed to start progress bars, continuing without them", "error", err)
		} else {
			progress = bars.onEvent
			defer bars.stop()
		}
	}

	ctx, cancel := interruptContext()
	defer cancel()

	slog.Info("fetch starting", "targets", targetSummary(args))
	results, err := fetchctl.Run(ctx, config, args, force, progress)
	if bars != nil {
		bars.stop()
	}

	for _, r := range results {
		if r.Err != nil {
			slog.Warn("target failed", "target", r.ID, "error", r.Err)
			continue
		}
		slog.Info("target fetched", "target", r.ID, "synced", r.Synced)
	}

	if err != nil {
		fatal(cmd, err)
	}
	slog.Info("fetch complete", "targets", len(results))
}

func targetSummary(ids []string) string {
	if len(ids) == 0 {
		return "all"
	}
	return strings.Join(ids, ",")
}

func runFetchURL(cmd *cobra.Command, args []string) {
	rawURL := args[0]

	cacheDir, _ := cmd.Flags().GetString("cache-dir")
	sigPackage, _ := cmd.Flags().GetBool("sig")
	sigOptional, _ := cmd.Flags().GetBool("sig-optional")
	insecure, _ := cmd.Flags().GetBool("insecure-skip-verify")

	if cacheDir == "" {
		config, err := loadConfig(cmd)
		if err != nil {
			fatal(cmd, err)
		}
		cacheDir = config.Dir
	}
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		fatal(cmd, errors.Wrap(err, "prepare cache dir"))
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} // #nosec G402 - explicit opt-in flag

	quiet, _ := cmd.Flags().GetBool("quiet")
	var progress download.EventFunc
	var bars *barManager
	if !quiet {
		var err error
		bars, err = newBarManager()
		if err == nil {
			progress = bars.onEvent
			defer bars.stop()
		}
	}

	ctx, cancel := interruptContext()
	defer cancel()

	finalName, err := download.FetchPkgURL(ctx, rawURL, cacheDir, sigPackage, sigOptional, tlsConfig, progress)
	if bars != nil {
		bars.stop()
	}
	if err != nil {
		fatal(cmd, errors.Wrap(err, "fetch-url"))
	}

	slog.Info("fetch-url complete", "url", rawURL, "cached_as", finalName)
}

func runValidate(cmd *cobra.Command, _ []string) {
	_, err := loadConfig(cmd)
	if err != nil {
		fatal(cmd, err)
	}
	slog.Info("the toml configuration file passes validation checks")
}

func runTLSCheck(cmd *cobra.Command, args []string) {
	targetID := args[0]

	config, err := loadConfig(cmd)
	if err != nil {
		fatal(cmd, err)
	}

	tc, ok := config.Targets[targetID]
	if !ok {
		fmt.Printf("Target %q not found in configuration.\n\n", targetID)
		fmt.Println("Available targets:")
		var ids []string
		for id := range config.Targets {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("  - %s\n", id)
		}
		os.Exit(1)
	}
	if len(tc.Servers) == 0 {
		fatal(cmd, errors.Newf("target %q has no servers", targetID))
	}

	effTLS := tc.GetEffectiveTLSConfig(&config.TLS)
	server := tc.Servers[0]
	host := server.Hostname()
	port := server.Port()
	if port == "" {
		if server.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	fmt.Printf("Checking TLS status for target %q (%s:%s)...\n\n", targetID, host, port)
	checkTLSVersions(effTLS, host, port)
	checkCertificateDetails(effTLS, host, port)
	fmt.Println("TLS check complete.")
}

func checkTLSVersions(tlsCfg *fetchctl.TLSConfig, host, port string) {
	fmt.Println("[+] TLS Version Support:")

	versions := []struct {
		version uint16
		name    string
	}{
		{tls.VersionTLS10, "TLS 1.0"},
		{tls.VersionTLS11, "TLS 1.1"},
		{tls.VersionTLS12, "TLS 1.2"},
		{tls.VersionTLS13, "TLS 1.3"},
	}

	for _, v := range versions {
		conf, err := tlsCfg.BuildTLSConfig()
		if err != nil {
			fmt.Printf("    %s: error building TLS config (%v)\n", v.name, err)
			continue
		}
		conf.MinVersion = v.version
		conf.MaxVersion = v.version

		conn, err := tls.Dial("tcp", net.JoinHostPort(host, port), conf)
		if err != nil {
			fmt.Printf("    %s: not supported (%v)\n", v.name, err)
			continue
		}
		fmt.Printf("    %s: supported\n", v.name)
		conn.Close()
	}
	fmt.Println()
}

func checkCertificateDetails(tlsCfg *fetchctl.TLSConfig, host, port string) {
	fmt.Println("[+] Connection Details:")

	conf, err := tlsCfg.BuildTLSConfig()
	if err != nil {
		fmt.Printf("Error building TLS config: %v\n", err)
		return
	}

	conn, err := tls.Dial("tcp", net.JoinHostPort(host, port), conf)
	if err != nil {
		fmt.Printf("Failed to establish connection: %v\n", err)
		return
	}
	defer conn.Close()

	state := conn.ConnectionState()
	fmt.Printf("    Negotiated Version: %s\n", tlsVersionString(state.Version))
	fmt.Printf("    Negotiated Cipher:  %s\n", tls.CipherSuiteName(state.CipherSuite))
	fmt.Println()

	fmt.Println("[+] Server Certificate Chain:")
	for i, cert := range state.PeerCertificates {
		fmt.Printf("    - Cert %d:\n", i)
		fmt.Printf("      Subject:  %s\n", cert.Subject.CommonName)
		fmt.Printf("      Issuer:   %s\n", cert.Issuer.CommonName)
		fmt.Printf("      Expires:  %s\n", cert.NotAfter.Format(time.RFC3339))
		if i < len(state.PeerCertificates)-1 {
			fmt.Println()
		}
	}
	fmt.Println()
}

func tlsVersionString(v uint16) string {
	switch v {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("unknown (0x%04x)", v)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
