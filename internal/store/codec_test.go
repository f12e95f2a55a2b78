package store

import (
	"encoding/json"
	"testing"

	"github.com/fjod/go_cart/cart-store/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	state := domain.Empty().
		Add(domain.Candidate{ID: 3, Title: "Mascara", Price: decimal.RequireFromString("9.99"), Thumbnail: "https://cdn/3.png"}).
		Add(domain.Candidate{ID: 1, Title: "Lipstick", Price: decimal.RequireFromString("12.5"), Thumbnail: "https://cdn/1.png"}).
		Add(domain.Candidate{ID: 3, Title: "Mascara", Price: decimal.RequireFromString("9.99"), Thumbnail: "https://cdn/3.png"})

	data, err := Encode(state, 7)
	require.NoError(t, err)

	decoded, revision, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), revision)
	assert.True(t, state.Equal(decoded))

	lines := decoded.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, int64(3), lines[0].ID)
	assert.Equal(t, 2, lines[0].Quantity)
}

func TestEncode_Layout(t *testing.T) {
	data, err := Encode(domain.Empty(), 1)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `{"lines":[]}`, string(raw["state"]))
	assert.JSONEq(t, `1`, string(raw["version"]))
	assert.JSONEq(t, `1`, string(raw["revision"]))
}

func TestDecode_AcceptsNumericPrices(t *testing.T) {
	data := []byte(`{"state":{"lines":[{"id":1,"title":"A","price":10.5,"thumbnail":"x","quantity":2}]},"version":1}`)

	state, revision, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), revision)
	assert.True(t, decimal.RequireFromString("21").Equal(state.TotalPrice()))
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"missing version", `{"state":{"lines":[]}}`, ErrIncompatibleSchema},
		{"future version", `{"state":{"lines":[]},"version":2}`, ErrIncompatibleSchema},
		{"zero quantity", `{"state":{"lines":[{"id":1,"title":"A","price":"1","quantity":0}]},"version":1}`, domain.ErrInvalidState},
		{"duplicate id", `{"state":{"lines":[{"id":1,"title":"A","price":"1","quantity":1},{"id":1,"title":"A","price":"1","quantity":1}]},"version":1}`, domain.ErrInvalidState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecode_Garbage(t *testing.T) {
	_, _, err := Decode([]byte("not json"))
	require.ErrorContains(t, err, "unmarshal cart failed")
}
