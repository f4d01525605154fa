package httpstream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func largeBox(typ string, payloadLen int) []byte {
	out := make([]byte, 16+payloadLen)
	out[3] = 1 // size==1: largesize follows the type
	copy(out[4:8], typ)
	out[15] = byte(16 + payloadLen)
	return out
}

func TestDetectFragmented(t *testing.T) {
	ftyp := box("ftyp", []byte("iso5dash"))
	moov := box("moov", fullBox("mvhd", make([]byte, 96)))
	moof := box("moof", fullBox("mfhd", u32b(1)))
	mdat := box("mdat", make([]byte, 32))

	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"progressive", concat(ftyp, moov, mdat), false},
		{"fragmented", concat(ftyp, moov, moof, mdat), true},
		{"moof after largesize box", concat(ftyp, largeBox("skip", 24), moof), true},
		{"moof past truncated sibling", concat(ftyp, moov[:len(moov)-40], moof), false},
		{"truncated header", ftyp[:6], false},
		{"zero-size tail box", concat(ftyp, u32b(0), []byte("mdat")), false},
		{"short size field", concat(u32b(4), []byte("free"), moof), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, detectFragmented(tt.data))
		})
	}
}

func concat(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}
