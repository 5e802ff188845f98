package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldpool/internal/field"
)

// Vectors taken from gnark-crypto's bn254/fr/mimc test suite plus one local
// two-element vector.
func TestMiMCVectors(t *testing.T) {
	tests := []struct {
		in  []string
		out string
	}{
		{
			in:  []string{"0x105afe02a0f7648bee1669b05bf7ae69a37dbb6c86ebbee325dffe97ac1f8e64"},
			out: "0x263b9e754e6c611d646e65b16c48f51ab7bc0abedfae9c6ea04e2814ed28daf4",
		},
		{
			in: []string{
				"0x208f0b283064057cf912b65eaa51e2cb2b85fdbe2fd0b2841f4bca59321ef1bf",
				"0x226bee7671296d05c998a5b5b4b1d25f478696d5997ba4f4be1a682c56a69e11",
			},
			out: "0x1476ada1433d73817a69e45c84c5d452ad858f2dfdb1f7e4da203d3c4fd42222",
		},
		{
			in: []string{
				"0x6680de43f6cf410d4a8ed2893e58a8b740bac14f9dbdadbc8623c06027418a1",
				"0x59323b0ab7043f559674eba263da812eae9e933b0c1bad55f8118d0caaa7479",
				"0x16b161c8de7184ccc6b1b6fcddb562789a68eeaec174376f1157dfb3db310787",
			},
			out: "0x118e5255aabe7a3b6a5dde6ca28de461d36f802653885c665745fc4e6ca0f709",
		},
		{
			in:  []string{"0x1", "0x2"},
			out: "0x07f751d627280b8f73ebe288d68acd77dc2fd6962debda017df192e355065814",
		},
	}

	h := NewMiMC()
	for _, tc := range tests {
		inputs := make([]field.Element, len(tc.in))
		for i, s := range tc.in {
			e, err := field.FromHex(s)
			require.NoError(t, err)
			inputs[i] = e
		}
		assert.Equal(t, tc.out, h.Hash(inputs...).Hex())
	}
}

func TestBackends(t *testing.T) {
	for _, name := range []string{NameMiMC, NamePoseidon2} {
		t.Run(name, func(t *testing.T) {
			h, err := ByName(name)
			require.NoError(t, err)
			assert.Equal(t, name, h.Name())

			a := h.Hash(field.FromUint64(1), field.FromUint64(2))
			b := h.Hash(field.FromUint64(1), field.FromUint64(2))
			c := h.Hash(field.FromUint64(2), field.FromUint64(1))
			assert.Equal(t, a, b)
			assert.NotEqual(t, a, c, "input order must matter")
		})
	}

	mimcOut := NewMiMC().Hash(field.FromUint64(1), field.FromUint64(2))
	posOut := NewPoseidon2().Hash(field.FromUint64(1), field.FromUint64(2))
	assert.NotEqual(t, mimcOut, posOut)

	_, err := ByName("sha256")
	assert.Error(t, err)
}
