// config.go - Client configuration, environment loading and validation

package docstore

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/AlekSi/pointer"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.uber.org/zap"
)

// envPrefix is prepended to every environment variable read by LoadConfig.
const envPrefix = "DOCSTORE_"

// Authentication mechanisms understood by the driver.
const (
	AuthSCRAMSHA1   = "SCRAM-SHA-1"
	AuthSCRAMSHA256 = "SCRAM-SHA-256"
	AuthX509        = "MONGODB-X509"
	AuthAWS         = "MONGODB-AWS"
	AuthOIDC        = "MONGODB-OIDC"
	AuthGSSAPI      = "GSSAPI"
	AuthPLAIN       = "PLAIN"
)

var authMechanisms = []string{AuthSCRAMSHA1, AuthSCRAMSHA256, AuthX509, AuthAWS, AuthOIDC, AuthGSSAPI, AuthPLAIN}

// Credential configures authentication when the URI doesn't carry it.
type Credential struct {
	Mechanism           string            `env:"MECHANISM"`
	Source              string            `env:"SOURCE"`
	Username            string            `env:"USERNAME"`
	Password            string            `env:"PASSWORD"`
	MechanismProperties map[string]string `env:"MECHANISM_PROPERTIES"` // "KEY:value,KEY2:value2"
}

func (c Credential) isSet() bool {
	return c.Mechanism != "" || c.Source != "" || c.Username != "" || c.Password != "" || len(c.MechanismProperties) > 0
}

// ServerAPI pins the server's stable API.
type ServerAPI struct {
	Version           string `env:"VERSION"` // "" leaves the API unpinned; only "1" exists
	Strict            bool   `env:"STRICT"`
	DeprecationErrors bool   `env:"DEPRECATION_ERRORS"`
}

// TLS configures transport security.
type TLS struct {
	Enabled            bool   `env:"ENABLED"`
	CAFile             string `env:"CA_FILE"`
	CertificateKeyFile string `env:"CERTIFICATE_KEY_FILE"`
	Insecure           bool   `env:"INSECURE"`
}

// WriteConcern configures write acknowledgement. The zero value leaves the
// deployment default in place.
type WriteConcern struct {
	W        int           `env:"W"`
	Majority bool          `env:"MAJORITY"`
	Journal  bool          `env:"JOURNAL"`
	WTimeout time.Duration `env:"WTIMEOUT"`
}

func (wc WriteConcern) isSet() bool {
	return wc.W != 0 || wc.Majority || wc.Journal || wc.WTimeout != 0
}

// Config holds every option recognized by Connect together with its default.
// Options given in the URI and here are merged: a field changed from its
// default wins over the URI, and a field left at its default yields to an
// option the URI sets.
type Config struct {
	URI             string `env:"URI,required"`
	AppName         string `env:"APP_NAME"`
	DefaultDatabase string `env:"DATABASE"` // defaults to the URI path, then "test"

	Credential Credential `envPrefix:"AUTH_"`
	ServerAPI  ServerAPI  `envPrefix:"SERVER_API_"`
	TLS        TLS        `envPrefix:"TLS_"`

	ReadPreference string       `env:"READ_PREFERENCE" envDefault:"primary"`
	WriteConcern   WriteConcern `envPrefix:"WRITE_CONCERN_"`
	RetryWrites    bool         `env:"RETRY_WRITES" envDefault:"true"`
	RetryReads     bool         `env:"RETRY_READS" envDefault:"true"`

	ConnectTimeout         time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	ServerSelectionTimeout time.Duration `env:"SERVER_SELECTION_TIMEOUT" envDefault:"30s"`
	MaxPoolSize            uint64        `env:"MAX_POOL_SIZE" envDefault:"100"`
	MinPoolSize            uint64        `env:"MIN_POOL_SIZE" envDefault:"0"`
	Compressors            []string      `env:"COMPRESSORS" envSeparator:","`

	// VerifyConnection makes Connect ping the deployment before returning.
	VerifyConnection bool `env:"VERIFY_CONNECTION"`

	LogLevel  string `env:"LOG_LEVEL"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Logger overrides LogLevel and LogFormat.
	Logger *zap.Logger `env:"-"`

	// Registerer receives the client's metrics; nil leaves them unregistered.
	// Metrics carry a "client" label holding AppName, so clients sharing a
	// Registerer need distinct application names.
	Registerer prometheus.Registerer `env:"-"`
}

// DefaultConfig returns a Config for uri with every default applied.
func DefaultConfig(uri string) Config {
	return Config{
		URI:                    uri,
		ReadPreference:         "primary",
		RetryWrites:            true,
		RetryReads:             true,
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 30 * time.Second,
		MaxPoolSize:            100,
		LogFormat:              "json",
	}
}

// LoadConfig reads DOCSTORE_* variables, loading a .env file first when present,
// and validates the result.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, &ConfigurationError{Option: ".env", Err: err}
	}

	return loadConfig(env.Options{Prefix: envPrefix})
}

func loadConfig(opts env.Options) (Config, error) {
	var cfg Config

	parsers := map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(map[string]string{}): parseProperties,
	}
	if err := env.ParseWithFuncs(&cfg, parsers, opts); err != nil {
		return Config{}, &ConfigurationError{Option: "environment", Err: err}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// parseProperties parses "KEY:value,KEY2:value2".
func parseProperties(s string) (any, error) {
	props := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, ":")
		if !ok || k == "" {
			return nil, fmt.Errorf("malformed property %q", pair)
		}
		props[k] = v
	}
	return props, nil
}

// Validate checks the configuration without any network I/O.
func (cfg *Config) Validate() error {
	cs, err := parseURI(cfg.URI)
	if err != nil {
		return err
	}

	cred := cfg.Credential
	if cred.isSet() && (cs.Username != "" || cs.PasswordSet) {
		return &ConfigurationError{Option: "credential", Reason: "credentials given both in the URI and in the configuration"}
	}

	mechanism := cred.Mechanism
	if mechanism == "" {
		mechanism = cs.AuthMechanism
	}
	if mechanism != "" {
		known := false
		for _, m := range authMechanisms {
			if strings.EqualFold(m, mechanism) {
				known = true
				break
			}
		}
		if !known {
			return &ConfigurationError{Option: "authMechanism", Reason: fmt.Sprintf("unknown mechanism %q", mechanism)}
		}

		if strings.EqualFold(mechanism, AuthX509) || strings.EqualFold(mechanism, AuthOIDC) {
			if cred.Password != "" || cs.PasswordSet {
				return &ConfigurationError{Option: "authMechanism", Reason: mechanism + " does not accept a password"}
			}
		}
	}

	switch api := cfg.ServerAPI; {
	case api.Version == "" && (api.Strict || api.DeprecationErrors):
		return &ConfigurationError{Option: "serverApi", Reason: "strict and deprecationErrors require a version"}
	case api.Version != "" && api.Version != string(options.ServerAPIVersion1):
		return &ConfigurationError{Option: "serverApi", Reason: fmt.Sprintf("unsupported version %q", api.Version)}
	}

	if cfg.TLS.Insecure && cfg.TLS.CAFile != "" {
		return &ConfigurationError{Option: "tls", Reason: "insecure TLS cannot be combined with a CA file"}
	}

	if cfg.ReadPreference != "" {
		if _, err := readpref.ModeFromString(cfg.ReadPreference); err != nil {
			return &ConfigurationError{Option: "readPreference", Err: err}
		}
	}

	if cfg.WriteConcern.W != 0 && cfg.WriteConcern.Majority {
		return &ConfigurationError{Option: "writeConcern", Reason: "w and majority are mutually exclusive"}
	}
	if cfg.WriteConcern.W < 0 {
		return &ConfigurationError{Option: "writeConcern", Reason: "w must not be negative"}
	}

	if cfg.MaxPoolSize != 0 && cfg.MinPoolSize > cfg.MaxPoolSize {
		return &ConfigurationError{
			Option: "pool",
			Reason: fmt.Sprintf("minPoolSize %d exceeds maxPoolSize %d", cfg.MinPoolSize, cfg.MaxPoolSize),
		}
	}

	for _, c := range cfg.Compressors {
		switch c {
		case "snappy", "zlib", "zstd":
		default:
			return &ConfigurationError{Option: "compressors", Reason: fmt.Sprintf("unknown compressor %q", c)}
		}
	}

	return nil
}

func parseURI(uri string) (*connstring.ConnString, error) {
	if uri == "" {
		return nil, &ConfigurationError{Option: "uri", Reason: "connection string is empty"}
	}
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, &ConfigurationError{Option: "uri", Err: err}
	}
	return cs, nil
}

// databaseName returns the configured default database.
func (cfg *Config) databaseName() string {
	if cfg.DefaultDatabase != "" {
		return cfg.DefaultDatabase
	}
	if cs, err := connstring.Parse(cfg.URI); err == nil && cs.Database != "" {
		return cs.Database
	}
	return "test"
}

// clientOptions builds driver options from a validated configuration.
func (cfg *Config) clientOptions() (*options.ClientOptions, error) {
	cs, err := connstring.Parse(cfg.URI)
	if err != nil {
		return nil, &ConfigurationError{Option: "uri", Err: err}
	}
	def := DefaultConfig(cfg.URI)

	// apply reports whether a field overrides the URI.
	apply := func(inURI, isDefault bool) bool { return !inURI || !isDefault }

	opts := options.Client().ApplyURI(cfg.URI)

	if cfg.AppName != "" {
		opts.SetAppName(cfg.AppName)
	}

	if cred := cfg.Credential; cred.isSet() {
		opts.SetAuth(options.Credential{
			AuthMechanism:           strings.ToUpper(cred.Mechanism),
			AuthMechanismProperties: cred.MechanismProperties,
			AuthSource:              cred.Source,
			Username:                cred.Username,
			Password:                cred.Password,
			PasswordSet:             cred.Password != "",
		})
	}

	if api := cfg.ServerAPI; api.Version != "" {
		opts.SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion(api.Version)).
			SetStrict(api.Strict).
			SetDeprecationErrors(api.DeprecationErrors))
	}

	if cfg.TLS.Enabled || cfg.TLS.CAFile != "" || cfg.TLS.CertificateKeyFile != "" || cfg.TLS.Insecure {
		tlsConfig, err := cfg.TLS.config()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	if cfg.ReadPreference != "" &&
		apply(cs.ReadPreference != "", strings.EqualFold(cfg.ReadPreference, def.ReadPreference)) {
		mode, _ := readpref.ModeFromString(cfg.ReadPreference)
		rp, err := readpref.New(mode)
		if err != nil {
			return nil, &ConfigurationError{Option: "readPreference", Err: err}
		}
		opts.SetReadPreference(rp)
	}

	if wc := cfg.WriteConcern; wc.isSet() {
		c := &writeconcern.WriteConcern{WTimeout: wc.WTimeout}
		switch {
		case wc.Majority:
			c.W = "majority"
		case wc.W > 0:
			c.W = wc.W
		}
		if wc.Journal {
			c.Journal = pointer.ToBool(true)
		}
		opts.SetWriteConcern(c)
	}

	if apply(cs.RetryWritesSet, cfg.RetryWrites == def.RetryWrites) {
		opts.SetRetryWrites(cfg.RetryWrites)
	}
	if apply(cs.RetryReadsSet, cfg.RetryReads == def.RetryReads) {
		opts.SetRetryReads(cfg.RetryReads)
	}

	if cfg.ConnectTimeout > 0 && apply(cs.ConnectTimeoutSet, cfg.ConnectTimeout == def.ConnectTimeout) {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.ServerSelectionTimeout > 0 &&
		apply(cs.ServerSelectionTimeoutSet, cfg.ServerSelectionTimeout == def.ServerSelectionTimeout) {
		opts.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}
	if cfg.MaxPoolSize > 0 && apply(cs.MaxPoolSizeSet, cfg.MaxPoolSize == def.MaxPoolSize) {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if apply(cs.MinPoolSizeSet, cfg.MinPoolSize == def.MinPoolSize) {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}

	if len(cfg.Compressors) > 0 {
		opts.SetCompressors(cfg.Compressors)
	}

	if err := opts.Validate(); err != nil {
		return nil, &ConfigurationError{Option: "options", Err: err}
	}
	return opts, nil
}

func (t TLS) config() (*tls.Config, error) {
	c := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: t.Insecure, //nolint:gosec // explicit opt-in
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, &ConfigurationError{Option: "tls.caFile", Err: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ConfigurationError{Option: "tls.caFile", Reason: "no certificates found"}
		}
		c.RootCAs = pool
	}

	if t.CertificateKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(t.CertificateKeyFile, t.CertificateKeyFile)
		if err != nil {
			return nil, &ConfigurationError{Option: "tls.certificateKeyFile", Err: err}
		}
		c.Certificates = []tls.Certificate{cert}
	}

	return c, nil
}
