package vpx

import (
	"fmt"
	"image"
	"sync"
	"unsafe"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
)

/*
#cgo pkg-config: vpx
#include <stdlib.h>
#include <vpx/vpx_decoder.h>
#include <vpx/vp8dx.h>
#include <vpx/vpx_image.h>


vpx_codec_iface_t *ifaceVP8Decoder() {
   return vpx_codec_vp8_dx();
}
vpx_codec_iface_t *ifaceVP9Decoder() {
   return vpx_codec_vp9_dx();
}

// Allocates a new decoder context
vpx_codec_ctx_t* newDecoderCtx() {
    return (vpx_codec_ctx_t*)malloc(sizeof(vpx_codec_ctx_t));
}

// Initializes the decoder
vpx_codec_err_t decoderInit(vpx_codec_ctx_t* ctx, vpx_codec_iface_t* iface) {
    return vpx_codec_dec_init_ver(ctx, iface, NULL, 0, VPX_DECODER_ABI_VERSION);
}

// Decodes an encoded frame
vpx_codec_err_t decodeFrame(vpx_codec_ctx_t* ctx, const uint8_t* data, unsigned int data_sz) {
    return vpx_codec_decode(ctx, data, data_sz, NULL, 0);
}

// Returns the next decoded frame
vpx_image_t* getFrame(vpx_codec_ctx_t* ctx, vpx_codec_iter_t* iter) {
    return vpx_codec_get_frame(ctx, iter);
}

// Frees a decoder context
void freeDecoderCtx(vpx_codec_ctx_t* ctx) {
    vpx_codec_destroy(ctx);
    free(ctx);
}

*/
import "C"

// Decoder is a codec.DecoderEngine. Decoded images are copied out of libvpx
// into buffers which are reused once the image is recycled.
type Decoder struct {
	codecCtx *C.vpx_codec_ctx_t
	closed   bool

	buffers sync.Pool
}

func NewDecoder(c camloop.CodecType) (*Decoder, error) {
	var iface *C.vpx_codec_iface_t
	switch c {
	case camloop.VP8:
		iface = C.ifaceVP8Decoder()
	case camloop.VP9:
		iface = C.ifaceVP9Decoder()
	default:
		return nil, fmt.Errorf("unknown codec: %v", c)
	}
	ctx := C.newDecoderCtx()
	if C.decoderInit(ctx, iface) != C.VPX_CODEC_OK {
		C.free(unsafe.Pointer(ctx))
		return nil, fmt.Errorf("vpx_codec_dec_init failed")
	}
	return &Decoder{
		codecCtx: ctx,
	}, nil
}

// NewDecoderEngine adapts NewDecoder to codec.DecoderEngineFactory.
func NewDecoderEngine(c camloop.CodecType) (codec.DecoderEngine, error) {
	return NewDecoder(c)
}

// Decode decodes one frame. It returns a nil image if libvpx produced no
// picture for the payload.
func (d *Decoder) Decode(payload []byte) (*image.YCbCr, error) {
	if d.closed {
		return nil, camloop.ErrClosed
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	status := C.decodeFrame(d.codecCtx, (*C.uint8_t)(&payload[0]), C.uint(len(payload)))
	switch status {
	case C.VPX_CODEC_OK:
	case C.VPX_CODEC_CORRUPT_FRAME, C.VPX_CODEC_UNSUP_BITSTREAM:
		return nil, fmt.Errorf("decode failed: %v: %w", status, codec.ErrCorrupt)
	default:
		return nil, fmt.Errorf("decode failed: %v", status)
	}

	var iter C.vpx_codec_iter_t
	input := C.getFrame(d.codecCtx, &iter)
	if input == nil {
		return nil, nil
	}

	w := int(input.d_w)
	h := int(input.d_h)
	ch := (h + 1) / 2
	yStride := int(input.stride[0])
	uStride := int(input.stride[1])
	vStride := int(input.stride[2])

	src := &image.YCbCr{
		Y:              unsafe.Slice((*byte)(unsafe.Pointer(input.planes[0])), yStride*h),
		Cb:             unsafe.Slice((*byte)(unsafe.Pointer(input.planes[1])), uStride*ch),
		Cr:             unsafe.Slice((*byte)(unsafe.Pointer(input.planes[2])), vStride*ch),
		YStride:        yStride,
		CStride:        uStride,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, w, h),
	}
	if uStride != vStride {
		return nil, fmt.Errorf("unsupported chroma strides %v and %v", uStride, vStride)
	}

	var buf []byte
	if b, ok := d.buffers.Get().([]byte); ok {
		buf = b
	}
	buf = codec.CopyI420(buf, src)
	return codec.I420Image(buf, w, h), nil
}

// Recycle returns the buffer of an image returned by Decode.
func (d *Decoder) Recycle(img *image.YCbCr) {
	d.buffers.Put(img.Y[:cap(img.Y)])
}

func (d *Decoder) Close() error {
	if d.closed {
		return nil
	}
	C.freeDecoderCtx(d.codecCtx)
	d.closed = true
	return nil
}
