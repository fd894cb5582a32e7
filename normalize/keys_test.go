package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyCasing(t *testing.T) {
	tests := []struct{ camel, snake string }{
		{"paymentHash", "payment_hash"},
		{"feeProportionalMillionths", "fee_proportional_millionths"},
		{"id", "id"},
		{"toLocal", "to_local"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.snake, ToSnake(tc.camel))
		assert.Equal(t, tc.camel, ToCamel(tc.snake))
	}
}

func TestSnakeKeysCopiesNested(t *testing.T) {
	in := map[string]any{
		"nodeId": "02aa",
		"data": map[string]any{
			"localCommit": []any{map[string]any{"toLocal": 1.0}},
		},
	}
	out := SnakeKeys(in).(map[string]any)
	assert.Equal(t, "02aa", out["node_id"])
	data := out["data"].(map[string]any)
	commits := data["local_commit"].([]any)
	assert.Equal(t, 1.0, commits[0].(map[string]any)["to_local"])

	// The input is left untouched.
	_, ok := in["nodeId"]
	assert.True(t, ok)
	_, ok = in["data"].(map[string]any)["localCommit"]
	assert.True(t, ok)

	back := CamelKeys(out).(map[string]any)
	assert.Equal(t, in, back)
}

func TestDecodeCamel(t *testing.T) {
	var v struct {
		PaymentHash string `json:"payment_hash"`
		Amount      Msat   `json:"amount"`
	}
	require.NoError(t, DecodeCamel([]byte(`{"paymentHash":"ab","amount":12345678901234}`), &v))
	assert.Equal(t, "ab", v.PaymentHash)
	assert.Equal(t, int64(12345678901234), v.Amount.Int64())

	assert.Error(t, DecodeCamel([]byte(`{`), &v))
}
