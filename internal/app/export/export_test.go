package export

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sketchboard/pkg/canvas/protocol"
)

var canvas = Canvas{Width: 100, Height: 80}

func strokes() []protocol.Stroke {
	return []protocol.Stroke{
		{ID: "a", Color: "#FF0000", Width: 6, Points: []protocol.Point{{X: 10, Y: 40}, {X: 90, Y: 40}}},
		{ID: "b", Color: "#00f", Width: 6, Points: []protocol.Point{{X: 50, Y: 10}, {X: 50, Y: 70}}},
	}
}

func TestPNGPaintsStrokesInOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PNG(&buf, canvas, strokes()))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, 80, img.Bounds().Dy())

	r, g, b, _ := img.At(20, 40).RGBA()
	assert.Equal(t, []uint32{0xffff, 0, 0}, []uint32{r, g, b}, "red stroke")

	// The blue stroke was committed last, so it covers the crossing.
	r, g, b, _ = img.At(50, 40).RGBA()
	assert.Equal(t, []uint32{0, 0, 0xffff}, []uint32{r, g, b}, "blue on top")

	r, g, b, _ = img.At(5, 5).RGBA()
	assert.Equal(t, []uint32{0xffff, 0xffff, 0xffff}, []uint32{r, g, b}, "background")
}

func TestPDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PDF(&buf, canvas, strokes()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestEmptyHistoryExports(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PNG(&buf, canvas, nil))
	buf.Reset()
	require.NoError(t, PDF(&buf, canvas, nil))
	assert.NotZero(t, buf.Len())
}

func TestParseHex(t *testing.T) {
	r, g, b, err := ParseHex("#1a2B3c")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{0x1a, 0x2b, 0x3c}, [3]uint8{r, g, b})

	r, g, b, err = ParseHex("#fa0")
	require.NoError(t, err)
	assert.Equal(t, [3]uint8{0xff, 0xaa, 0x00}, [3]uint8{r, g, b})

	for _, bad := range []string{"", "fa0", "123456", "#12", "#gggggg"} {
		_, _, _, err := ParseHex(bad)
		assert.Error(t, err, bad)
	}
}
