package llm

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"

	// Decoders for the formats chat clients upload.
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	defaultMaxImageWidth = 1024
	jpegQuality          = 80
)

// normalizeImage downsizes an image to maxWidth, keeping its aspect ratio,
// and re-encodes it as JPEG. Undecodable input is returned unchanged.
func normalizeImage(data []byte, maxWidth int) *Image {
	if maxWidth <= 0 {
		maxWidth = defaultMaxImageWidth
	}

	original := &Image{Data: data, MIMEType: http.DetectContentType(data)}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return original
	}

	bounds := src.Bounds()
	if bounds.Dx() > maxWidth {
		height := bounds.Dy() * maxWidth / bounds.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
		// JPEG has no alpha; flatten onto white.
		draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return original
	}

	return &Image{Data: buf.Bytes(), MIMEType: "image/jpeg"}
}
