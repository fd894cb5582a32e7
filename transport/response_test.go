package transport

import (
	"errors"
	"testing"

	"github.com/feelancer21/lnunify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseSuccess(t *testing.T) {
	raw, err := ParseResponse(200, []byte(`{"alias":"node"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"alias":"node"}`, string(raw))

	raw, err = ParseResponse(200, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestParseResponseLineDelimited(t *testing.T) {
	body := "{\"result\":{\"status\":\"IN_FLIGHT\"}}\n{\"result\":{\"status\":\"SUCCEEDED\"}}\n"
	raw, err := ParseResponse(200, []byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":{"status":"SUCCEEDED"}}`, string(raw))
}

func TestParseResponseIndentedDocument(t *testing.T) {
	body := "{\"alias\":\"bob\",\n \"version\":\"v24.11\"}"
	raw, err := ParseResponse(200, []byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{"alias":"bob","version":"v24.11"}`, string(raw))

	body = "{\n    \"channels\": [\n        {\"id\": 1}\n    ]\n}\n"
	raw, err = ParseResponse(200, []byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, `{"channels":[{"id":1}]}`, string(raw))
}

func TestParseResponseMalformed(t *testing.T) {
	_, err := ParseResponse(200, []byte(`{"alias":`))
	require.ErrorIs(t, err, lnunify.ErrProtocol)
}

func TestParseResponseErrorPriority(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested message", `{"error":{"message":"nested"},"message":"top"}`, "nested"},
		{"message", `{"message":"top","error":"plain"}`, "top"},
		{"error string", `{"error":"plain"}`, "plain"},
		{"error object without message", `{"error":{"code":2}}`, `{"code":2}`},
		{"raw text", `internal failure`, "internal failure"},
		{"empty", ``, lnunify.ErrConnection.Error()},
		{"json without known fields", `{"code":5}`, `{"code":5}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseResponse(500, []byte(tc.body))
			require.ErrorIs(t, err, lnunify.ErrBackend)

			var be *lnunify.BackendError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tc.want, be.Message)
			assert.Equal(t, 500, be.Status)
		})
	}
}

func TestBuildURL(t *testing.T) {
	tests := []struct {
		host, port, route string
		ws                bool
		want              string
	}{
		{"node.local", "8080", "/v1/getinfo", false, "https://node.local:8080/v1/getinfo"},
		{"http://node.local", "8080", "/v1/getinfo", false, "http://node.local:8080/v1/getinfo"},
		{"https://node.local/", "", "/v1/getinfo", false, "https://node.local/v1/getinfo"},
		{"node.local", "8080", "/v2/router/send", true, "wss://node.local:8080/v2/router/send"},
		{"http://node.local", "", "/v1/invoices/subscribe", true, "ws://node.local/v1/invoices/subscribe"},
		{"node.local", "", "rpc", false, "https://node.local/rpc"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, BuildURL(tc.host, tc.port, tc.route, tc.ws))
	}
}
