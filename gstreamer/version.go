package gstreamer

/*
#cgo pkg-config: gstreamer-1.0
#include <gst/gst.h>
*/
import "C"

import "unsafe"

// Version describes the linked GStreamer library, e.g. "GStreamer 1.24.2".
func Version() string {
	s := C.gst_version_string()
	defer C.g_free(C.gpointer(unsafe.Pointer(s)))
	return C.GoString((*C.char)(unsafe.Pointer(s)))
}
