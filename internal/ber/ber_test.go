package ber

import (
	"bytes"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    []byte
		wantErr bool
	}{
		{
			name:  "DER integer unchanged",
			input: []byte{0x02, 0x01, 0x01},
			want:  []byte{0x02, 0x01, 0x01},
		},
		{
			name:  "DER sequence unchanged",
			input: []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02},
			want:  []byte{0x30, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02},
		},
		{
			name:  "empty sequence",
			input: []byte{0x30, 0x00},
			want:  []byte{0x30, 0x00},
		},
		{
			name:  "indefinite sequence",
			input: []byte{0x30, 0x80, 0x02, 0x01, 0x2A, 0x00, 0x00},
			want:  []byte{0x30, 0x03, 0x02, 0x01, 0x2A},
		},
		{
			name:  "indefinite empty octet string stays present",
			input: []byte{0x04, 0x80, 0x00, 0x00},
			want:  []byte{0x04, 0x00},
		},
		{
			name:  "indefinite explicit tag around empty octet string",
			input: []byte{0xA0, 0x80, 0x24, 0x80, 0x00, 0x00, 0x00, 0x00},
			want:  []byte{0xA0, 0x02, 0x04, 0x00},
		},
		{
			name: "nested indefinite containers",
			input: []byte{
				0x30, 0x80,
				0x30, 0x80,
				0x02, 0x01, 0x07,
				0x00, 0x00,
				0x00, 0x00,
			},
			want: []byte{0x30, 0x05, 0x30, 0x03, 0x02, 0x01, 0x07},
		},
		{
			name: "constructed octet string flattened",
			input: []byte{
				0x24, 0x08,
				0x04, 0x03, 0x01, 0x02, 0x03,
				0x04, 0x01, 0x04,
			},
			want: []byte{0x04, 0x04, 0x01, 0x02, 0x03, 0x04},
		},
		{
			name: "indefinite constructed octet string with nested constructed chunk",
			input: []byte{
				0x24, 0x80,
				0x04, 0x01, 0xAA,
				0x24, 0x80, 0x04, 0x01, 0xBB, 0x00, 0x00,
				0x00, 0x00,
			},
			want: []byte{0x04, 0x02, 0xAA, 0xBB},
		},
		{
			name: "constructed bit string flattened",
			input: []byte{
				0x23, 0x08,
				0x03, 0x03, 0x00, 0xAB, 0xCD,
				0x03, 0x01, 0x00,
			},
			want: []byte{0x03, 0x03, 0x00, 0xAB, 0xCD},
		},
		{
			name: "bit string with unused bits in a middle chunk",
			input: []byte{
				0x23, 0x08,
				0x03, 0x02, 0x04, 0xF0,
				0x03, 0x02, 0x00, 0x01,
			},
			wantErr: true,
		},
		{
			name:  "boolean 0x01 becomes 0xFF",
			input: []byte{0x01, 0x01, 0x01},
			want:  []byte{0x01, 0x01, 0xFF},
		},
		{
			name:  "boolean false kept",
			input: []byte{0x01, 0x01, 0x00},
			want:  []byte{0x01, 0x01, 0x00},
		},
		{
			name:    "boolean with two bytes",
			input:   []byte{0x01, 0x02, 0x00, 0x01},
			wantErr: true,
		},
		{
			name:  "integer leading zeros removed",
			input: []byte{0x02, 0x03, 0x00, 0x00, 0x01},
			want:  []byte{0x02, 0x01, 0x01},
		},
		{
			name:  "integer sign byte kept",
			input: []byte{0x02, 0x02, 0x00, 0x80},
			want:  []byte{0x02, 0x02, 0x00, 0x80},
		},
		{
			name:  "negative integer redundant 0xFF removed",
			input: []byte{0x02, 0x02, 0xFF, 0x80},
			want:  []byte{0x02, 0x01, 0x80},
		},
		{
			name:  "non-minimal length",
			input: []byte{0x04, 0x81, 0x03, 0x01, 0x02, 0x03},
			want:  []byte{0x04, 0x03, 0x01, 0x02, 0x03},
		},
		{
			name:  "four byte length field shortened",
			input: []byte{0x04, 0x84, 0x00, 0x00, 0x00, 0x01, 0x09},
			want:  []byte{0x04, 0x01, 0x09},
		},
		{
			name: "long-form context tag kept intact",
			input: []byte{
				0xBF, 0x81, 0x00, 0x80, // [128] constructed, indefinite
				0x02, 0x01, 0x05,
				0x00, 0x00,
			},
			want: []byte{0xBF, 0x81, 0x00, 0x03, 0x02, 0x01, 0x05},
		},
		{
			name: "inner DER set preserved byte for byte",
			input: []byte{
				0x30, 0x80,
				0x31, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02,
				0x00, 0x00,
			},
			want: []byte{0x30, 0x08, 0x31, 0x06, 0x02, 0x01, 0x01, 0x02, 0x01, 0x02},
		},
		{
			name:    "empty input",
			input:   []byte{},
			wantErr: true,
		},
		{
			name:    "truncated element",
			input:   []byte{0x02, 0x05, 0x01},
			wantErr: true,
		},
		{
			name:    "missing end-of-contents",
			input:   []byte{0x30, 0x80, 0x02, 0x01, 0x01},
			wantErr: true,
		},
		{
			name:    "indefinite integer",
			input:   []byte{0x02, 0x80, 0x00, 0x00},
			wantErr: true,
		},
		{
			name:    "five byte length field",
			input:   []byte{0x04, 0x85, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, rest, err := Normalize(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Empty(t, rest)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalize_LongContent(t *testing.T) {
	payload := bytes.Repeat([]byte{0x5A}, 70000)
	input := []byte{0x24, 0x80}
	for chunk := range slices.Chunk(payload, 1000) {
		input = append(input, 0x04, 0x82, byte(len(chunk)>>8), byte(len(chunk)))
		input = append(input, chunk...)
	}
	input = append(input, 0x00, 0x00)

	got, err := NormalizeStrict(input)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x83, 0x01, 0x11, 0x70}, got[:5])
	assert.Equal(t, payload, got[5:])
}

func TestNormalize_TrailingData(t *testing.T) {
	input := []byte{0x02, 0x01, 0x01, 0xDE, 0xAD}

	der, rest, err := Normalize(input)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x01}, der)
	assert.Equal(t, []byte{0xDE, 0xAD}, rest)

	_, err = NormalizeStrict(input)
	assert.ErrorIs(t, err, ErrTrailingData)
}

func TestNormalize_DepthLimit(t *testing.T) {
	var input []byte
	for range maxDepth + 2 {
		input = append(input, 0x30, 0x80)
	}
	for range maxDepth + 2 {
		input = append(input, 0x00, 0x00)
	}
	_, _, err := Normalize(input)
	assert.ErrorIs(t, err, ErrTooDeep)
}

func TestAppendLength(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7F}},
		{128, []byte{0x81, 0x80}},
		{256, []byte{0x82, 0x01, 0x00}},
		{1 << 24, []byte{0x84, 0x01, 0x00, 0x00, 0x00}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, appendLength(nil, tt.n), "length %d", tt.n)
	}
}

var benchResult []byte

func BenchmarkNormalize(b *testing.B) {
	input := []byte{0x30, 0x80}
	for i := range 20 {
		input = append(input, 0x02, 0x01, byte(i+1))
	}
	input = append(input, 0x00, 0x00)

	var r []byte
	for b.Loop() {
		var err error
		r, _, err = Normalize(input)
		if err != nil {
			b.Fatal(err)
		}
	}
	benchResult = r
}
