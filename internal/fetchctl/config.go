package fetchctl

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"reflect"
	"strconv"
	"strings"
)

const (
	defaultMaxConns = 10
	defaultMaxSize  = 0 // unlimited
)

// TLSConfig defines TLS/HTTPS security configuration.
type TLSConfig struct {
	// MinVersion specifies the minimum TLS version to use (1.2, 1.3)
	MinVersion string `toml:"min_version" env:"DLENGINE_TLS_MIN_VERSION"`

	// MaxVersion specifies the maximum TLS version to use (1.2, 1.3)
	MaxVersion string `toml:"max_version" env:"DLENGINE_TLS_MAX_VERSION"`

	// InsecureSkipVerify controls whether to skip certificate verification
	// WARNING: Only use for testing - this is a security risk
	InsecureSkipVerify bool `toml:"insecure_skip_verify" env:"DLENGINE_TLS_INSECURE_SKIP_VERIFY"`

	// CACertFile path to custom CA certificate file for verification
	CACertFile string `toml:"ca_cert_file" env:"DLENGINE_TLS_CA_CERT_FILE"`

	// ClientCertFile path to client certificate file (for mutual TLS)
	ClientCertFile string `toml:"client_cert_file" env:"DLENGINE_TLS_CLIENT_CERT_FILE"`

	// ClientKeyFile path to client private key file (for mutual TLS)
	ClientKeyFile string `toml:"client_key_file" env:"DLENGINE_TLS_CLIENT_KEY_FILE"`

	// CipherSuites specifies allowed cipher suites (empty = Go defaults)
	CipherSuites []string `toml:"cipher_suites" env:"DLENGINE_TLS_CIPHER_SUITES"`

	// ServerName for SNI (Server Name Indication) - overrides hostname
	ServerName string `toml:"server_name" env:"DLENGINE_TLS_SERVER_NAME"`
}

// TLSOverrides defines per-target TLS overrides.
type TLSOverrides struct {
	InsecureSkipVerify *bool  `toml:"insecure_skip_verify,omitempty"`
	CACertFile         string `toml:"ca_cert_file,omitempty"`
	ClientCertFile     string `toml:"client_cert_file,omitempty"`
	ClientKeyFile      string `toml:"client_key_file,omitempty"`
	ServerName         string `toml:"server_name,omitempty"`
}

// BuildTLSConfig creates a *tls.Config from the TLSConfig settings.
func (t *TLSConfig) BuildTLSConfig() (*tls.Config, error) {
	config := &tls.Config{
		InsecureSkipVerify: t.InsecureSkipVerify, // #nosec G402 - user-configurable for testing/development environments
		ServerName:         t.ServerName,
	}

	if t.MinVersion != "" {
		switch t.MinVersion {
		case "1.2":
			config.MinVersion = tls.VersionTLS12
		case "1.3":
			config.MinVersion = tls.VersionTLS13
		default:
			return nil, errors.New("invalid min_version: must be 1.2 or 1.3")
		}
	} else {
		config.MinVersion = tls.VersionTLS12
	}

	if t.MaxVersion != "" {
		switch t.MaxVersion {
		case "1.2":
			config.MaxVersion = tls.VersionTLS12
		case "1.3":
			config.MaxVersion = tls.VersionTLS13
		default:
			return nil, errors.New("invalid max_version: must be 1.2 or 1.3")
		}
	}

	if t.CACertFile != "" {
		caCert, err := os.ReadFile(t.CACertFile)
		if err != nil {
			return nil, errors.New("failed to read CA certificate file: " + err.Error())
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		config.RootCAs = caCertPool
	}

	if t.ClientCertFile != "" && t.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.ClientCertFile, t.ClientKeyFile)
		if err != nil {
			return nil, errors.New("failed to load client certificate: " + err.Error())
		}
		config.Certificates = []tls.Certificate{cert}
	} else if t.ClientCertFile != "" || t.ClientKeyFile != "" {
		return nil, errors.New("both client_cert_file and client_key_file must be specified for mutual TLS")
	}

	if len(t.CipherSuites) > 0 {
		var cipherSuites []uint16
		for _, suite := range t.CipherSuites {
			switch suite {
			case "TLS_AES_128_GCM_SHA256":
				cipherSuites = append(cipherSuites, tls.TLS_AES_128_GCM_SHA256)
			case "TLS_AES_256_GCM_SHA384":
				cipherSuites = append(cipherSuites, tls.TLS_AES_256_GCM_SHA384)
			case "TLS_CHACHA20_POLY1305_SHA256":
				cipherSuites = append(cipherSuites, tls.TLS_CHACHA20_POLY1305_SHA256)
			case "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256":
				cipherSuites = append(cipherSuites, tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
			case "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384":
				cipherSuites = append(cipherSuites, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384)
			case "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256":
				cipherSuites = append(cipherSuites, tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256)
			case "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384":
				cipherSuites = append(cipherSuites, tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384)
			default:
				return nil, errors.New("unsupported cipher suite: " + suite)
			}
		}
		config.CipherSuites = cipherSuites
	}

	return config, nil
}

// Validate checks the TLS configuration for consistency and security.
func (t *TLSConfig) Validate() error {
	if t.InsecureSkipVerify {
		slog.Warn("TLS certificate verification is DISABLED - this is less secure and should be used for testing only")
	}

	if (t.ClientCertFile != "" && t.ClientKeyFile == "") || (t.ClientCertFile == "" && t.ClientKeyFile != "") {
		return errors.New("both client_cert_file and client_key_file must be specified for mutual TLS")
	}

	if t.CACertFile != "" {
		if _, err := os.Stat(t.CACertFile); err != nil {
			return errors.New("CA certificate file not found: " + t.CACertFile)
		}
	}

	if t.ClientCertFile != "" {
		if _, err := os.Stat(t.ClientCertFile); err != nil {
			return errors.New("client certificate file not found: " + t.ClientCertFile)
		}
	}

	if t.ClientKeyFile != "" {
		if _, err := os.Stat(t.ClientKeyFile); err != nil {
			return errors.New("client key file not found: " + t.ClientKeyFile)
		}
	}

	if t.MinVersion != "" && t.MaxVersion != "" {
		minVer := parseVersion(t.MinVersion)
		maxVer := parseVersion(t.MaxVersion)
		if minVer > maxVer {
			return errors.New("min_version cannot be greater than max_version")
		}
	}

	return nil
}

func parseVersion(version string) int {
	switch version {
	case "1.2":
		return 12
	case "1.3":
		return 13
	default:
		return 0
	}
}

// GetEffectiveTLSConfig merges global and per-target TLS settings.
// Target-specific settings override global settings where specified.
func (tc *TargetConfig) GetEffectiveTLSConfig(globalTLS *TLSConfig) *TLSConfig {
	if globalTLS == nil {
		globalTLS = &TLSConfig{}
	}

	effective := *globalTLS

	if tc.TLS != nil {
		if tc.TLS.InsecureSkipVerify != nil {
			effective.InsecureSkipVerify = *tc.TLS.InsecureSkipVerify
		}
		if tc.TLS.CACertFile != "" {
			effective.CACertFile = tc.TLS.CACertFile
		}
		if tc.TLS.ClientCertFile != "" {
			effective.ClientCertFile = tc.TLS.ClientCertFile
		}
		if tc.TLS.ClientKeyFile != "" {
			effective.ClientKeyFile = tc.TLS.ClientKeyFile
		}
		if tc.TLS.ServerName != "" {
			effective.ServerName = tc.TLS.ServerName
		}
	}

	return &effective
}

type tomlURL struct {
	*url.URL
}

func (u *tomlURL) UnmarshalText(text []byte) error {
	parsedURL, err := url.Parse(string(text))
	if err != nil {
		return err
	}
	switch parsedURL.Scheme {
	case "http":
	case "https":
	default:
		return errors.New("unsupported scheme: " + parsedURL.Scheme)
	}

	// for URL.ResolveReference
	if !strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path += "/"
		parsedURL.RawPath += "/"
	}

	u.URL = parsedURL
	return nil
}

// TargetConfig is an auxiliary struct for Config describing one fetch
// target: a logical file reachable from one or more mirror servers.
//
//revive:disable:exported
type TargetConfig struct {
	// Servers lists candidate base URLs, tried in order on failure.
	Servers []tomlURL `toml:"servers"`

	// FilePath is the path segment appended to each server's base URL,
	// and also the relative path under Dir the file is stored at.
	FilePath string `toml:"file_path"`

	// AllowResume enables Range-based resumption of partial downloads.
	AllowResume bool `toml:"allow_resume,omitempty"`

	// Force re-downloads even if a current copy already exists.
	Force bool `toml:"force,omitempty"`

	// TrustRemoteName lets a Content-Disposition header rename the
	// destination file.
	TrustRemoteName bool `toml:"trust_remote_name,omitempty"`

	// MaxSize caps the transfer in bytes; 0 means unlimited.
	MaxSize int64 `toml:"max_size,omitempty"`

	// ErrorsOk marks this target as optional: a failed transfer is
	// logged and skipped rather than failing the whole run.
	ErrorsOk bool `toml:"errors_ok,omitempty"`

	// SigPackage additionally fetches FilePath+".sig" as a detached
	// signature sidecar.
	SigPackage bool `toml:"sig_package,omitempty"`

	// SigPackageOptional marks the signature sidecar fetch as
	// errors_ok regardless of ErrorsOk.
	SigPackageOptional bool `toml:"sig_package_optional,omitempty"`

	// TLS configuration overrides for this target.
	TLS *TLSOverrides `toml:"tls,omitempty"`

	// Username, paired with Password, is sent as HTTP Basic auth
	// credentials on every request to this target. Like curl's
	// CURL_NETRC_OPTIONAL, the credentials are only ever offered on the
	// URL itself (net/url.Userinfo); nothing forces the server to
	// challenge for them.
	Username string `toml:"username,omitempty"`

	// Password pairs with Username for HTTP Basic auth.
	Password string `toml:"password,omitempty"` // #nosec G101 - config field name, not a credential literal
}

// Check validates the target configuration.
func (tc *TargetConfig) Check() error {
	if len(tc.Servers) == 0 {
		return errors.New("no servers")
	}
	if tc.FilePath == "" {
		return errors.New("file_path is not set")
	}
	if tc.MaxSize < 0 {
		return errors.New("max_size must not be negative")
	}
	return nil
}

// Resolve returns the URL for server index i, joined with FilePath
// (or an explicit relative path, for sidecar fetches such as ".sig").
func (tc *TargetConfig) Resolve(i int, relPath string) (*url.URL, error) {
	if i < 0 || i >= len(tc.Servers) {
		return nil, fmt.Errorf("server index %d out of range (have %d)", i, len(tc.Servers))
	}
	if relPath == "" {
		relPath = tc.FilePath
	}
	return tc.Servers[i].ResolveReference(&url.URL{Path: relPath}), nil
}

// URLs returns the resolved candidate URLs for FilePath, one per server.
func (tc *TargetConfig) URLs() []string {
	urls := make([]string, 0, len(tc.Servers))
	for i := range tc.Servers {
		u, err := tc.Resolve(i, "")
		if err != nil {
			continue
		}
		urls = append(urls, u.String())
	}
	return urls
}

// BaseURLs returns the unresolved candidate server base URLs, suitable
// for download.NewPayload's servers argument (which appends a relative
// path itself rather than taking pre-joined URLs).
func (tc *TargetConfig) BaseURLs() []string {
	bases := make([]string, len(tc.Servers))
	for i := range tc.Servers {
		bases[i] = tc.Servers[i].String()
	}
	return bases
}

// LogConfig represents slog configuration options.
type LogConfig struct {
	Level  string `toml:"level" env:"DLENGINE_LOG_LEVEL"`
	Format string `toml:"format" env:"DLENGINE_LOG_FORMAT"`
}

// Apply configures the global slog logger based on the configuration.
func (lc *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + lc.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(lc.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + lc.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// ShouldShowProgress returns true if progress bars should be displayed.
// Progress bars are suppressed at more verbose log levels so they don't
// interleave with log lines.
func (lc *LogConfig) ShouldShowProgress() bool {
	level := strings.ToLower(lc.Level)
	return level == "error" || level == "warn" || level == "warning" || level == "info" || level == ""
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := fetchctl.NewConfig()
//	md, err := toml.DecodeFile("/path/to/config.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	Dir      string                   `toml:"dir" env:"DLENGINE_DIR"`
	MaxConns int                      `toml:"max_conns" env:"DLENGINE_MAX_CONNS"`
	Log      LogConfig                `toml:"log"`
	TLS      TLSConfig                `toml:"tls"`
	Targets  map[string]*TargetConfig `toml:"targets"`

	// DisableStallTimeout turns off the low-speed abort (10s with no
	// forward progress) that every transfer otherwise carries, mirroring
	// libalpm's disable_dl_timeout handle option.
	DisableStallTimeout bool `toml:"disable_stall_timeout,omitempty" env:"DLENGINE_DISABLE_STALL_TIMEOUT"`
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.Dir == "" {
		return errors.New("dir is not set")
	}

	if err := c.TLS.Validate(); err != nil {
		return errors.New("TLS configuration error: " + err.Error())
	}
	if !path.IsAbs(c.Dir) {
		return errors.New("dir must be an absolute path")
	}

	if c.MaxConns <= 0 {
		return errors.New("max_conns must be a positive integer")
	}

	for targetID, tc := range c.Targets {
		if !IsValidID(targetID) {
			return fmt.Errorf("invalid target ID %q: must contain only lowercase letters, numbers, hyphens, and underscores", targetID)
		}
		if tc != nil {
			if err := tc.Check(); err != nil {
				return fmt.Errorf("target %q: %w", targetID, err)
			}
		}
	}

	return nil
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		MaxConns: defaultMaxConns,
	}
}

// ApplyEnvironmentVariables applies environment variables to the configuration.
// Environment variables override TOML configuration values.
// This should be called after loading the TOML configuration.
func (c *Config) ApplyEnvironmentVariables() error {
	return applyEnvToStruct(c)
}

// applyEnvToStruct recursively applies environment variables to struct fields
// based on "env" tags using reflection.
func applyEnvToStruct(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return errors.New("applyEnvToStruct requires a pointer to struct")
	}

	rv = rv.Elem()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rt.Field(i)

		if !field.CanSet() {
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag != "" {
			if err := setFieldFromEnv(field, envTag); err != nil {
				return errors.New("failed to set field " + fieldType.Name + " from environment: " + err.Error())
			}
			continue
		}

		if field.Kind() == reflect.Struct {
			if err := applyEnvToStruct(field.Addr().Interface()); err != nil {
				return err
			}
		} else if field.Kind() == reflect.Ptr && !field.IsNil() && field.Elem().Kind() == reflect.Struct {
			if err := applyEnvToStruct(field.Interface()); err != nil {
				return err
			}
		}
	}

	return nil
}

// setFieldFromEnv sets a struct field value from an environment variable.
func setFieldFromEnv(field reflect.Value, envVar string) error {
	envValue := os.Getenv(envVar)
	if envValue == "" {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(envValue)

	case reflect.Int, reflect.Int64:
		intVal, err := strconv.ParseInt(envValue, 10, 64)
		if err != nil {
			return errors.New("invalid integer value for " + envVar + ": " + envValue)
		}
		field.SetInt(intVal)

	case reflect.Bool:
		boolVal, err := strconv.ParseBool(envValue)
		if err != nil {
			return errors.New("invalid boolean value for " + envVar + ": " + envValue)
		}
		field.SetBool(boolVal)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			if envValue != "" {
				parts := strings.Split(envValue, ",")
				values := make([]string, len(parts))
				for i, part := range parts {
					values[i] = strings.TrimSpace(part)
				}
				field.Set(reflect.ValueOf(values))
			}
		} else {
			return errors.New("unsupported slice type for environment variable")
		}

	default:
		return errors.New("unsupported field type: " + field.Kind().String())
	}

	return nil
}
