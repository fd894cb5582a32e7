package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/feelancer21/lnunify"
	"github.com/feelancer21/lnunify/backends/lndhub"
	"github.com/feelancer21/lnunify/backends/nwc"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

var (
	appName = "lnunify"
)

// Config is loaded from the YAML file (global).
type Config struct {
	Backend string `yaml:"backend" validate:"required,oneof=lnd cln-rest c-lightning-rest lnsocket spark eclair lndhub lightning-node-connect nostr-wallet-connect"`

	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`
	LogFile   string `yaml:"log_file"`

	// MetricsListen serves /metrics when set, e.g. 127.0.0.1:9101.
	MetricsListen string `yaml:"metrics_listen" validate:"omitempty,hostname_port"`

	Timeout time.Duration `yaml:"timeout"`
	Tor     *TorConfig    `yaml:"tor"`

	LND     *LNDConfig     `yaml:"lnd" validate:"required_if=Backend lnd"`
	CLNRest *CLNRestConfig `yaml:"cln_rest" validate:"required_if=Backend cln-rest"`
	Socket  *SocketConfig  `yaml:"lnsocket" validate:"required_if=Backend lnsocket"`
	Spark   *SparkConfig   `yaml:"spark" validate:"required_if=Backend spark"`
	Eclair  *EclairConfig  `yaml:"eclair" validate:"required_if=Backend eclair"`
	LndHub  *LndHubConfig  `yaml:"lndhub" validate:"required_if=Backend lndhub"`
	LNC     *LNCConfig     `yaml:"lnc" validate:"required_if=Backend lightning-node-connect"`
	NWC     *NWCConfig     `yaml:"nwc" validate:"required_if=Backend nostr-wallet-connect"`

	CLightningREST *CLightningRESTConfig `yaml:"c_lightning_rest" validate:"required_if=Backend c-lightning-rest"`
}

// TorConfig routes every backend with tor: true through a local Tor client.
type TorConfig struct {
	SOCKS string `yaml:"socks" validate:"omitempty,hostname_port"`
}

// TLSConfig is shared by the HTTPS backends.
type TLSConfig struct {
	TLSVerify   bool   `yaml:"tls_verify"`
	TLSCertPath string `yaml:"tls_cert_path" validate:"omitempty,file"`
	Tor         bool   `yaml:"tor"`
}

// LNDConfig holds the LND node connection settings
type LNDConfig struct {
	TLSConfig    `yaml:",inline"`
	Host         string `yaml:"host" validate:"required"`
	Port         string `yaml:"port" validate:"omitempty,numeric"`
	Macaroon     string `yaml:"macaroon" validate:"required_without=MacaroonPath,excluded_with=MacaroonPath"`
	MacaroonPath string `yaml:"macaroon_path" validate:"omitempty,file"`
}

type CLNRestConfig struct {
	TLSConfig `yaml:",inline"`
	Host      string `yaml:"host" validate:"required"`
	Port      string `yaml:"port" validate:"omitempty,numeric"`
	Rune      string `yaml:"rune" validate:"required"`
}

// CLightningRESTConfig takes the server's access macaroon or a rune.
type CLightningRESTConfig struct {
	TLSConfig    `yaml:",inline"`
	Host         string `yaml:"host" validate:"required"`
	Port         string `yaml:"port" validate:"omitempty,numeric"`
	Macaroon     string `yaml:"macaroon" validate:"excluded_with=MacaroonPath Rune"`
	MacaroonPath string `yaml:"macaroon_path" validate:"omitempty,file,excluded_with=Rune"`
	Rune         string `yaml:"rune" validate:"required_without_all=Macaroon MacaroonPath"`
}

type SocketConfig struct {
	// Host is host:port of the node's peer port.
	Host   string `yaml:"host" validate:"required"`
	Pubkey string `yaml:"pubkey" validate:"required,len=66,hexadecimal"`
	Rune   string `yaml:"rune" validate:"required"`

	// KeyPath holds the local identity, see generatekey.
	KeyPath string `yaml:"key_path"`
	Tor     bool   `yaml:"tor"`
}

type SparkConfig struct {
	TLSConfig `yaml:",inline"`
	URL       string `yaml:"url" validate:"required,url"`
	AccessKey string `yaml:"access_key" validate:"required"`
}

type EclairConfig struct {
	TLSConfig `yaml:",inline"`
	URL       string `yaml:"url" validate:"required,url"`
	Password  string `yaml:"password" validate:"required"`
}

// LndHubConfig takes either the exported secret or login and password.
type LndHubConfig struct {
	TLSConfig `yaml:",inline"`
	Secret    string `yaml:"secret" validate:"required_without=Login,excluded_with=Login"`
	URL       string `yaml:"url" validate:"omitempty,url"`
	Login     string `yaml:"login" validate:"required_with=Password"`
	Password  string `yaml:"password" validate:"required_with=Login"`
}

type LNCConfig struct {
	// Addr is lnd's gRPC host:port.
	Addr         string `yaml:"addr" validate:"required,hostname_port"`
	Macaroon     string `yaml:"macaroon" validate:"required_without=MacaroonPath,excluded_with=MacaroonPath"`
	MacaroonPath string `yaml:"macaroon_path" validate:"omitempty,file"`
	TLSCertPath  string `yaml:"tls_cert_path" validate:"omitempty,file"`
	Tor          bool   `yaml:"tor"`
}

type NWCConfig struct {
	URI string `yaml:"uri" validate:"required"`
}

// validate checks the tags first, then what tags cannot express.
func (c *Config) validate() error {
	// Validate all fields with required tag
	validator := validator.New()
	if err := validator.Struct(c); err != nil {
		return err
	}

	if _, err := lnunify.ParseBackendKind(c.Backend); err != nil {
		return err
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.LND != nil && !isHex(c.LND.Macaroon) {
		return errors.New("lnd: macaroon must be hex")
	}
	if c.CLightningREST != nil && !isHex(c.CLightningREST.Macaroon) {
		return errors.New("c-lightning-rest: macaroon must be hex")
	}
	if c.LNC != nil && !isHex(c.LNC.Macaroon) {
		return errors.New("lnc: macaroon must be hex")
	}
	if c.NWC != nil {
		if _, err := nwc.ParseURI(c.NWC.URI); err != nil {
			return fmt.Errorf("nwc: %w", err)
		}
	}
	if c.LndHub != nil && c.LndHub.Secret != "" {
		if _, err := lndhub.ParseSecret(c.LndHub.Secret); err != nil {
			return err
		}
	}
	if c.anyTor() && c.Tor == nil {
		return errors.New("a backend uses tor but the tor section is missing")
	}
	return nil
}

func (c *Config) anyTor() bool {
	switch {
	case c.LND != nil && c.LND.Tor, c.CLNRest != nil && c.CLNRest.Tor,
		c.Socket != nil && c.Socket.Tor, c.Spark != nil && c.Spark.Tor,
		c.Eclair != nil && c.Eclair.Tor, c.LndHub != nil && c.LndHub.Tor,
		c.LNC != nil && c.LNC.Tor, c.CLightningREST != nil && c.CLightningREST.Tor:
		return true
	}
	return false
}

func (c *Config) setDefaults() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Socket != nil && c.Socket.KeyPath == "" {
		path, err := defaultKeyPath()
		if err != nil {
			return err
		}
		c.Socket.KeyPath = path
	}
	return nil
}

func loadConfig(c *cli.Context) (*Config, error) {
	var (
		configFile string
		err        error
	)

	if c.IsSet("config") {
		configFile = c.String("config")
	} else if configFile, err = defaultConfigPath(); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := parseConfig(b)
	if err != nil {
		return nil, err
	}
	if c.IsSet("backend") {
		cfg.Backend = c.String("backend")
		if err := cfg.validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
	}
	return cfg, nil
}

func parseConfig(b []byte) (*Config, error) {
	// new YAML decoder that errors on unknown fields,
	decoder := yaml.NewDecoder(bytes.NewReader(b))
	decoder.KnownFields(true)

	cfg := &Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("setting config defaults: %w", err)
	}

	return cfg, nil
}

// readMacaroon returns the hex macaroon, reading path when no inline value
// is configured.
func readMacaroon(inline, path string) (string, error) {
	if inline != "" {
		return inline, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading macaroon: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}

// DefaultConfigPath returns a reasonable per-user path like
//
//	Linux/macOS: $XDG_CONFIG_HOME/<app>/config.yaml
func defaultConfigPath() (string, error) {
	return configDirFilePath("config.yaml")
}

func configDirFilePath(filename string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, appName, filename), nil
}
