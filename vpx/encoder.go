// Package vpx implements codec engines on top of libvpx.
package vpx

/*
#cgo pkg-config: vpx
#include <stdlib.h>
#include <string.h>
#include "vpx/vpx_encoder.h"
#include "vpx/vp8cx.h"
#include "vpx/vpx_image.h"

vpx_codec_err_t vpx_codec_enc_init_macro(
	vpx_codec_ctx_t *ctx,
	vpx_codec_iface_t *iface,
	const vpx_codec_enc_cfg_t *cfg,
	vpx_codec_flags_t flags
) {
	return vpx_codec_enc_init(ctx, iface, cfg, flags);
}

void *pktBuf(vpx_codec_cx_pkt_t *pkt) {
  return pkt->data.frame.buf;
}

int pktSz(vpx_codec_cx_pkt_t *pkt) {
  return pkt->data.frame.sz;
}

vpx_codec_frame_flags_t pktFrameFlags(vpx_codec_cx_pkt_t *pkt) {
  return pkt->data.frame.flags;
}

// copies one plane row by row into a vpx image with its own stride
void copyPlane(unsigned char *dst, int dstStride, const unsigned char *src, int srcStride, int width, int height) {
	for (int r = 0; r < height; r++) {
		memcpy(dst + r * dstStride, src + r * srcStride, width);
	}
}

*/
import "C"
import (
	"errors"
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
)

func encoderInterface(c camloop.CodecType) (*C.vpx_codec_iface_t, error) {
	switch c {
	case camloop.VP8:
		return C.vpx_codec_vp8_cx(), nil
	case camloop.VP9:
		return C.vpx_codec_vp9_cx(), nil
	}
	return nil, fmt.Errorf("unknown codec: %v", c)
}

// Encoder is a codec.EncoderEngine. It is not safe for concurrent use.
type Encoder struct {
	ctx    *C.vpx_codec_ctx_t
	raw    *C.vpx_image_t
	width  int
	height int
	frame  []byte
	closed bool
}

// NewEncoder creates a realtime CBR encoder. Timestamps are passed to libvpx
// in microseconds.
func NewEncoder(c codec.Config) (*Encoder, error) {
	iface, err := encoderInterface(c.Codec)
	if err != nil {
		return nil, err
	}
	var cfg C.vpx_codec_enc_cfg_t
	if res := C.vpx_codec_enc_config_default(iface, &cfg, 0); res != C.VPX_CODEC_OK {
		return nil, fmt.Errorf("failed to get encoder default config: %v", res)
	}

	cfg.g_w = C.uint(c.Width)
	cfg.g_h = C.uint(c.Height)
	cfg.g_timebase.num = 1
	cfg.g_timebase.den = 1_000_000
	cfg.rc_end_usage = C.VPX_CBR
	cfg.rc_target_bitrate = C.uint(c.TargetRate / 1000)
	cfg.g_error_resilient = C.vpx_codec_er_flags_t(0)
	cfg.g_pass = C.VPX_RC_ONE_PASS
	cfg.g_lag_in_frames = 0
	cfg.g_threads = 4
	cfg.rc_resize_allowed = 0
	if c.KeyFrameInterval > 0 {
		cfg.kf_mode = C.VPX_KF_AUTO
		cfg.kf_min_dist = 0
		cfg.kf_max_dist = C.uint(c.KeyFrameInterval)
	}

	ctx := (*C.vpx_codec_ctx_t)(C.malloc(C.size_t(unsafe.Sizeof(C.vpx_codec_ctx_t{}))))
	if ctx == nil {
		return nil, errors.New("failed to allocate codec context")
	}
	if res := C.vpx_codec_enc_init_macro(ctx, iface, &cfg, 0); res != C.VPX_CODEC_OK {
		C.free(unsafe.Pointer(ctx))
		return nil, fmt.Errorf("failed to init encoder: %v", res)
	}
	raw := C.vpx_img_alloc(nil, C.VPX_IMG_FMT_I420, C.uint(c.Width), C.uint(c.Height), 1)
	if raw == nil {
		C.vpx_codec_destroy(ctx)
		C.free(unsafe.Pointer(ctx))
		return nil, errors.New("failed to allocate image")
	}
	return &Encoder{
		ctx:    ctx,
		raw:    raw,
		width:  int(c.Width),
		height: int(c.Height),
		frame:  make([]byte, 0),
	}, nil
}

// NewEncoderEngine adapts NewEncoder to codec.EncoderEngineFactory.
func NewEncoderEngine(c codec.Config) (codec.EncoderEngine, error) {
	return NewEncoder(c)
}

func (e *Encoder) Encode(img *image.YCbCr, pts int64, duration time.Duration, forceKeyFrame bool) (*codec.Frame, error) {
	if e.closed {
		return nil, camloop.ErrClosed
	}
	if img.Rect.Dx() != e.width || img.Rect.Dy() != e.height {
		return nil, fmt.Errorf("image size %vx%v does not match encoder size %vx%v", img.Rect.Dx(), img.Rect.Dy(), e.width, e.height)
	}
	cw, ch := (e.width+1)/2, (e.height+1)/2
	copyPlane(e.raw, 0, img.Y, img.YStride, e.width, e.height)
	copyPlane(e.raw, 1, img.Cb, img.CStride, cw, ch)
	copyPlane(e.raw, 2, img.Cr, img.CStride, cw, ch)

	var flags C.vpx_enc_frame_flags_t
	if forceKeyFrame {
		flags |= C.VPX_EFLAG_FORCE_KF
	}
	res := C.vpx_codec_encode(
		e.ctx,
		e.raw,
		C.vpx_codec_pts_t(pts),
		C.ulong(duration.Microseconds()),
		flags,
		C.VPX_DL_REALTIME,
	)
	if res != C.VPX_CODEC_OK {
		return nil, fmt.Errorf("failed to encode frame: %v", res)
	}

	var iter C.vpx_codec_iter_t
	frame := &codec.Frame{}
	e.frame = e.frame[:0]
	for {
		pkt := C.vpx_codec_get_cx_data(e.ctx, &iter)
		if pkt == nil {
			break
		}
		if pkt.kind == C.VPX_CODEC_CX_FRAME_PKT {
			frame.IsKeyFrame = C.pktFrameFlags(pkt)&C.VPX_FRAME_IS_KEY == C.VPX_FRAME_IS_KEY
			encoded := C.GoBytes(unsafe.Pointer(C.pktBuf(pkt)), C.pktSz(pkt))
			e.frame = append(e.frame, encoded...)
		}
	}
	frame.Payload = make([]byte, len(e.frame))
	copy(frame.Payload, e.frame)
	return frame, nil
}

func copyPlane(dst *C.vpx_image_t, plane int, src []byte, srcStride, width, height int) {
	if height == 0 || len(src) == 0 {
		return
	}
	C.copyPlane(dst.planes[plane], dst.stride[plane], (*C.uchar)(unsafe.Pointer(&src[0])), C.int(srcStride), C.int(width), C.int(height))
}

func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	C.vpx_img_free(e.raw)
	if res := C.vpx_codec_destroy(e.ctx); res != C.VPX_CODEC_OK {
		C.free(unsafe.Pointer(e.ctx))
		return fmt.Errorf("failed to destroy encoder: %v", res)
	}
	C.free(unsafe.Pointer(e.ctx))
	return nil
}
