package vpx

/*
#cgo pkg-config: vpx
#include "vpx/vpx_codec.h"
*/
import "C"

// Version returns the version of the linked libvpx, e.g. "v1.14.1".
func Version() string {
	return C.GoString(C.vpx_codec_version_str())
}
