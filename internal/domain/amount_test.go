package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmount_Decimal(t *testing.T) {
	a := Amount(10_500_000) // 10.50 AUD
	assert.Equal(t, "10.5", a.Decimal().String())
	assert.Equal(t, "10.50 AUD", a.String())
}

func TestAmountFromUnits(t *testing.T) {
	assert.Equal(t, int64(2_500_000_000), AmountFromUnits(2_500).Micros())
}

func TestParseAmount(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		micro int64
		ok    bool
	}{
		{name: "whole", in: "12000", micro: 12_000_000_000, ok: true},
		{name: "fraction", in: "0.000001", micro: 1, ok: true},
		{name: "zero", in: "0", ok: false},
		{name: "negative", in: "-5", ok: false},
		{name: "overflow", in: "99999999999999999999", ok: false},
		{name: "garbage", in: "abc", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a, err := ParseAmountString(tc.in)
			if !tc.ok {
				require.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.micro, a.Micros())
		})
	}
}

func TestAmount_JSON(t *testing.T) {
	out, err := json.Marshal(AmountFromUnits(5_000))
	require.NoError(t, err)
	assert.Equal(t, `"5000.00"`, string(out))

	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"12000.5"`), &a))
	assert.Equal(t, FromDecimal(decimal.RequireFromString("12000.5")), a)

	require.NoError(t, json.Unmarshal([]byte(`250`), &a))
	assert.Equal(t, AmountFromUnits(250), a)

	require.ErrorIs(t, json.Unmarshal([]byte(`"-1"`), &a), ErrInvalidAmount)
}
