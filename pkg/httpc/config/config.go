// Package config holds the transport settings and the configuration
// loading for the h1get command.
package config

import (
	"crypto/tls"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	_defaultMaxConnsPerHost = 50
	_defaultLogLevel        = "info"
)

// Client is the immutable-once-validated configuration for an H1Client.
// It is shared read-only with every connection factory the client creates.
type Client struct {
	// KeepAlive pools connections for reuse across requests. When false,
	// every connection is closed after its exchange.
	KeepAlive bool
	// NoDelay is the TCP_NODELAY value applied to every connection.
	NoDelay bool
	// ConnectTimeout, when positive, bounds dialing and the TLS handshake.
	// It does not bound waiting for a pool slot or the exchange itself;
	// those are separate timeout domains, configured on the request context.
	ConnectTimeout time.Duration
	// MaxConnsPerHost caps the connections per remote address. Must be
	// positive: a zero-sized pool could never satisfy a request.
	MaxConnsPerHost uint
	// DisableTLS makes the client refuse https URLs.
	DisableTLS bool
	// TLS configures the TLS handshake. Nil uses the defaults, including
	// the system trust store.
	TLS *tls.Config
}

// NewClient creates a client configuration with default values.
func NewClient() *Client {
	return &Client{
		KeepAlive:       true,
		NoDelay:         true,
		MaxConnsPerHost: _defaultMaxConnsPerHost,
	}
}

// Validate checks whether the configuration is valid. It must pass before
// the configuration is used; failures here are configuration errors, not
// request errors.
func (c *Client) Validate() error {
	if c.MaxConnsPerHost == 0 {
		return errors.New("max connections per host must be positive")
	}
	return nil
}

// Config is the configuration for the h1get command.
type Config struct {
	v    *viper.Viper
	args []string

	KeepAlive          bool
	NoDelay            bool
	ConnectTimeout     time.Duration
	MaxConnsPerHost    uint
	DisableTLS         bool
	InsecureSkipVerify bool

	Log *Log
}

// NewConfig creates a new config from command-line arguments and an
// optional configuration file.
func NewConfig(arguments []string) (*Config, error) {
	cfg := &Config{Log: NewLog()}

	v, fs := configure()

	fs.String("config", "", "configuration file")
	err := fs.Parse(arguments)
	if err != nil {
		return nil, err
	}

	if file, _ := fs.GetString("config"); file != "" {
		v.SetConfigFile(file)
		err = v.ReadInConfig()
		if err != nil {
			return nil, errors.Wrap(err, "read configuration file")
		}
	}

	err = v.Unmarshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal configuration")
	}

	cfg.v = v
	cfg.args = fs.Args()
	return cfg, nil
}

// Args returns the positional (non-flag) command-line arguments.
func (c *Config) Args() []string { return c.args }

// Adjust fills derived settings. It should be called once, before Validate.
func (c *Config) Adjust() error {
	err := c.Log.Adjust()
	if err != nil {
		return errors.WithMessage(err, "adjust log config")
	}
	return nil
}

// Validate checks whether the configuration is valid. It should be called
// after Adjust.
func (c *Config) Validate() error {
	return c.ClientConfig().Validate()
}

// ClientConfig derives the transport configuration.
func (c *Config) ClientConfig() *Client {
	cfg := &Client{
		KeepAlive:       c.KeepAlive,
		NoDelay:         c.NoDelay,
		ConnectTimeout:  c.ConnectTimeout,
		MaxConnsPerHost: c.MaxConnsPerHost,
		DisableTLS:      c.DisableTLS,
	}
	if c.InsecureSkipVerify {
		cfg.TLS = &tls.Config{InsecureSkipVerify: true}
	}
	return cfg
}

func configure() (*viper.Viper, *pflag.FlagSet) {
	v := viper.New()
	fs := pflag.NewFlagSet("h1get", pflag.ContinueOnError)

	// Viper settings
	v.AddConfigPath(".")
	v.AddConfigPath("$CONFIG_DIR/")

	// transport settings
	fs.Bool("keep-alive", true, "reuse connections across requests")
	fs.Bool("no-delay", true, "set TCP_NODELAY on connections")
	fs.Duration("connect-timeout", 0, "bound on dialing and TLS handshake, 0 to disable")
	fs.Uint("max-conns-per-host", _defaultMaxConnsPerHost, "maximum connections per remote address")
	fs.Bool("disable-tls", false, "refuse https URLs")
	fs.Bool("insecure-skip-verify", false, "skip TLS certificate verification")
	_ = v.BindPFlag("keep-alive", fs.Lookup("keep-alive"))
	_ = v.BindPFlag("no-delay", fs.Lookup("no-delay"))
	_ = v.BindPFlag("connect-timeout", fs.Lookup("connect-timeout"))
	_ = v.BindPFlag("max-conns-per-host", fs.Lookup("max-conns-per-host"))
	_ = v.BindPFlag("disable-tls", fs.Lookup("disable-tls"))
	_ = v.BindPFlag("insecure-skip-verify", fs.Lookup("insecure-skip-verify"))
	v.RegisterAlias("KeepAlive", "keep-alive")
	v.RegisterAlias("NoDelay", "no-delay")
	v.RegisterAlias("ConnectTimeout", "connect-timeout")
	v.RegisterAlias("MaxConnsPerHost", "max-conns-per-host")
	v.RegisterAlias("DisableTLS", "disable-tls")
	v.RegisterAlias("InsecureSkipVerify", "insecure-skip-verify")

	// log settings
	fs.String("log-level", _defaultLogLevel, "log level (debug, info, warn, error)")
	_ = v.BindPFlag("log.level", fs.Lookup("log-level"))

	return v, fs
}
