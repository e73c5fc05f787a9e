package codec

import "image"

func chromaSize(width, height int) (int, int) {
	return (width + 1) / 2, (height + 1) / 2
}

// I420Size returns the number of bytes of a planar 4:2:0 frame.
func I420Size(width, height int) int {
	cw, ch := chromaSize(width, height)
	return width*height + 2*cw*ch
}

// I420Image returns an image whose planes alias buf. buf must hold at least
// I420Size(width, height) bytes.
func I420Image(buf []byte, width, height int) *image.YCbCr {
	cw, ch := chromaSize(width, height)
	ySize := width * height
	cSize := cw * ch
	return &image.YCbCr{
		Y:              buf[:ySize],
		Cb:             buf[ySize : ySize+cSize],
		Cr:             buf[ySize+cSize : ySize+2*cSize],
		YStride:        width,
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}
}

// CopyI420 writes the planes of img into dst without row padding and returns
// the filled part of dst. dst is grown if it is too small.
func CopyI420(dst []byte, img *image.YCbCr) []byte {
	w := img.Rect.Dx()
	h := img.Rect.Dy()
	size := I420Size(w, h)
	if cap(dst) < size {
		dst = make([]byte, size)
	}
	dst = dst[:size]
	cw, ch := chromaSize(w, h)

	// copy Y plane
	for r := range h {
		copy(dst[r*w:r*w+w], img.Y[r*img.YStride:r*img.YStride+w])
	}

	// copy U plane
	uOffset := w * h
	for r := range ch {
		copy(dst[uOffset+r*cw:uOffset+r*cw+cw], img.Cb[r*img.CStride:r*img.CStride+cw])
	}

	// copy V plane
	vOffset := uOffset + cw*ch
	for r := range ch {
		copy(dst[vOffset+r*cw:vOffset+r*cw+cw], img.Cr[r*img.CStride:r*img.CStride+cw])
	}
	return dst
}
