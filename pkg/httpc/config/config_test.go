package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	cfg, err := NewConfig([]string{"http://example.test/"})
	re.NoError(err)
	re.NoError(cfg.Adjust())
	re.NoError(cfg.Validate())

	re.True(cfg.KeepAlive)
	re.True(cfg.NoDelay)
	re.Zero(cfg.ConnectTimeout)
	re.EqualValues(50, cfg.MaxConnsPerHost)
	re.False(cfg.DisableTLS)
	re.False(cfg.InsecureSkipVerify)
	re.Equal("info", cfg.Log.Level)
	re.Equal([]string{"http://example.test/"}, cfg.Args())
}

func TestNewConfigFlags(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	cfg, err := NewConfig([]string{
		"--keep-alive=false",
		"--connect-timeout=3s",
		"--max-conns-per-host=7",
		"--insecure-skip-verify",
		"--log-level=debug",
		"https://example.test/",
	})
	re.NoError(err)
	re.NoError(cfg.Adjust())
	re.NoError(cfg.Validate())

	re.False(cfg.KeepAlive)
	re.Equal(3*time.Second, cfg.ConnectTimeout)
	re.EqualValues(7, cfg.MaxConnsPerHost)
	re.True(cfg.InsecureSkipVerify)
	re.Equal("debug", cfg.Log.Level)
	re.Equal([]string{"https://example.test/"}, cfg.Args())

	client := cfg.ClientConfig()
	re.NotNil(client.TLS)
	re.True(client.TLS.InsecureSkipVerify)
}

func TestNewConfigUnknownFlag(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	_, err := NewConfig([]string{"--no-such-flag"})
	re.Error(err)
}

func TestValidateRejectsZeroPool(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	cfg, err := NewConfig([]string{"--max-conns-per-host=0"})
	re.NoError(err)
	re.NoError(cfg.Adjust())
	re.ErrorContains(cfg.Validate(), "max connections per host")
}

func TestClientDefaults(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	cfg := NewClient()
	re.NoError(cfg.Validate())
	re.True(cfg.KeepAlive)
	re.True(cfg.NoDelay)
	re.EqualValues(50, cfg.MaxConnsPerHost)
	re.Nil(cfg.TLS)
}

func TestLogAdjustRejectsBadLevel(t *testing.T) {
	t.Parallel()
	re := require.New(t)

	l := NewLog()
	l.Level = "loud"
	re.Error(l.Adjust())
}
