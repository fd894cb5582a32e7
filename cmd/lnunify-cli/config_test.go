package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWalletPub = "b889ff5b1513b641e2a139f661a661364979c5beee91842f8f0ef42ab558e9d4"
	testSecret    = "71a8c14c1407c113601079c4302dab36460f0ccd0ad506f1f2dc73b5100e4f3c"
)

func TestParseConfigLND(t *testing.T) {
	cfg, err := parseConfig([]byte(`
backend: lnd
metrics_listen: 127.0.0.1:9101
lnd:
  host: localhost
  port: "8080"
  macaroon: 0201036c6e64
  tls_verify: true
`))
	require.NoError(t, err)

	assert.Equal(t, "lnd", cfg.Backend)
	require.NotNil(t, cfg.LND)
	assert.Equal(t, "localhost", cfg.LND.Host)
	assert.True(t, cfg.LND.TLSVerify)
	assert.Nil(t, cfg.CLNRest)

	// defaults
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
}

func TestParseConfigErrors(t *testing.T) {
	dir := t.TempDir()
	macPath := filepath.Join(dir, "admin.macaroon")
	require.NoError(t, os.WriteFile(macPath, []byte{0x02, 0x01}, 0o600))

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown field",
			yaml: "backend: lnd\nlnd:\n  host: x\n  macaroon: ab\nfoo: bar\n",
			want: "unmarshaling config file",
		},
		{
			name: "unknown backend",
			yaml: "backend: c-lightning\n",
			want: "Backend",
		},
		{
			name: "section of active backend missing",
			yaml: "backend: eclair\nlnd:\n  host: x\n  macaroon: ab\n",
			want: "Eclair",
		},
		{
			name: "macaroon twice",
			yaml: "backend: lnd\nlnd:\n  host: x\n  macaroon: ab\n  macaroon_path: " + macPath + "\n",
			want: "Macaroon",
		},
		{
			name: "macaroon not hex",
			yaml: "backend: lnd\nlnd:\n  host: x\n  macaroon: not-hex\n",
			want: "macaroon must be hex",
		},
		{
			name: "negative timeout",
			yaml: "backend: lnd\ntimeout: -1s\nlnd:\n  host: x\n  macaroon: ab\n",
			want: "timeout must not be negative",
		},
		{
			name: "tor section missing",
			yaml: "backend: cln-rest\ncln_rest:\n  host: x.onion\n  rune: r\n  tor: true\n",
			want: "tor section is missing",
		},
		{
			name: "c-lightning-rest without credentials",
			yaml: "backend: c-lightning-rest\nc_lightning_rest:\n  host: x\n",
			want: "Rune",
		},
		{
			name: "c-lightning-rest macaroon and rune",
			yaml: "backend: c-lightning-rest\nc_lightning_rest:\n  host: x\n  macaroon: ab\n  rune: r\n",
			want: "Macaroon",
		},
		{
			name: "bad wallet connect uri",
			yaml: "backend: nostr-wallet-connect\nnwc:\n  uri: https://example.com\n",
			want: "nwc:",
		},
		{
			name: "bad lndhub secret",
			yaml: "backend: lndhub\nlndhub:\n  secret: login:password\n",
			want: "lndhub://",
		},
		{
			name: "lnsocket pubkey too short",
			yaml: "backend: lnsocket\nlnsocket:\n  host: node:9735\n  pubkey: 02abcd\n  rune: r\n",
			want: "Pubkey",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseConfig([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseConfigMacaroonPath(t *testing.T) {
	dir := t.TempDir()
	macPath := filepath.Join(dir, "admin.macaroon")
	require.NoError(t, os.WriteFile(macPath, []byte{0x02, 0x01, 0xff}, 0o600))

	cfg, err := parseConfig([]byte("backend: lightning-node-connect\nlnc:\n  addr: localhost:10009\n  macaroon_path: " + macPath + "\n"))
	require.NoError(t, err)

	mac, err := readMacaroon(cfg.LNC.Macaroon, cfg.LNC.MacaroonPath)
	require.NoError(t, err)
	assert.Equal(t, "0201ff", mac)

	_, err = readMacaroon("", filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestParseConfigCLightningREST(t *testing.T) {
	dir := t.TempDir()
	macPath := filepath.Join(dir, "access.macaroon")
	require.NoError(t, os.WriteFile(macPath, []byte{0x02, 0x01, 0x03}, 0o600))

	cfg, err := parseConfig([]byte("backend: c-lightning-rest\nc_lightning_rest:\n  host: localhost\n  port: \"3001\"\n  macaroon_path: " + macPath + "\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.CLightningREST)
	assert.Equal(t, "3001", cfg.CLightningREST.Port)

	mac, err := readMacaroon(cfg.CLightningREST.Macaroon, cfg.CLightningREST.MacaroonPath)
	require.NoError(t, err)
	assert.Equal(t, "020103", mac)

	cfg, err = parseConfig([]byte("backend: c-lightning-rest\nc_lightning_rest:\n  host: localhost\n  rune: r1\n"))
	require.NoError(t, err)
	assert.Equal(t, "r1", cfg.CLightningREST.Rune)
}

func TestParseConfigTor(t *testing.T) {
	cfg, err := parseConfig([]byte(`
backend: eclair
tor:
  socks: 127.0.0.1:9150
eclair:
  url: http://abcdef.onion:8080
  password: secret
  tor: true
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Tor)
	assert.Equal(t, "127.0.0.1:9150", cfg.Tor.SOCKS)
	assert.True(t, cfg.anyTor())
}

func TestParseConfigNWCAndLndHub(t *testing.T) {
	uri := "nostr+walletconnect://" + testWalletPub +
		"?relay=wss%3A%2F%2Frelay.example.com&secret=" + testSecret

	cfg, err := parseConfig([]byte(`
backend: nostr-wallet-connect
log_format: json
nwc:
  uri: "` + uri + `"
lndhub:
  secret: lndhub://alice:pw@https://hub.example.com
`))
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
	require.NotNil(t, cfg.NWC)

	hub, err := lndHubConfig(cfg.LndHub, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://hub.example.com", hub.URL)
	assert.Equal(t, "alice", hub.Login)
	assert.Equal(t, "pw", hub.Password)
	assert.Equal(t, cfg.Timeout, hub.Timeout)
}

func TestParseConfigSocketDefaultKeyPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg, err := parseConfig([]byte(`
backend: lnsocket
lnsocket:
  host: node.example.com:9735
  pubkey: 02` + strings.Repeat("ab", 32) + `
  rune: r
`))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, appName, "identity"), cfg.Socket.KeyPath)
}

func TestKeystore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity")

	key, err := loadKey(path)
	require.NoError(t, err)
	assert.Empty(t, key)

	key, err = generateIdentity()
	require.NoError(t, err)
	assert.Len(t, key, 64)

	require.NoError(t, saveKey(path, key))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := loadKey(path)
	require.NoError(t, err)
	assert.Equal(t, key, loaded)

	require.NoError(t, os.WriteFile(path, []byte("zz\n"), 0o600))
	_, err = loadKey(path)
	require.Error(t, err)
}
