// Command libzenith builds the C-compatible shared library exposing
// Zenith's data plane FFI ABI (zenith_init/zenith_publish/
// zenith_load_plugin/zenith_free) for embedding into a non-Go host
// process. Build with:
//
//	go build -buildmode=c-shared -o libzenith.so ./cmd/libzenith
//
// This file only adapts cgo's C calling convention onto
// internal/ffi — all actual logic, including the panic barrier, lives
// there so it can be unit-tested without cgo.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"unsafe"

	"github.com/zenith-fleet/zenith/internal/ffi"
)

//export zenith_init
func zenith_init(capacity C.uint32_t) C.uint64_t {
	handle, ok := ffi.Init(uint32(capacity))
	if !ok {
		return 0
	}
	return C.uint64_t(handle)
}

//export zenith_publish
func zenith_publish(engine C.uint64_t, arrayPtr *C.uint8_t, arrayLen C.size_t, sourceID C.uint32_t, seqNo C.uint64_t) C.int32_t {
	if arrayPtr == nil {
		return C.int32_t(ffi.StatusNullPointer)
	}
	payload := C.GoBytes(unsafe.Pointer(arrayPtr), C.int(arrayLen))
	status := ffi.Publish(uint64(engine), payload, uint32(sourceID), uint64(seqNo))
	return C.int32_t(status)
}

//export zenith_load_plugin
func zenith_load_plugin(engine C.uint64_t, bytesPtr *C.uint8_t, length C.size_t) C.int32_t {
	if bytesPtr == nil {
		return C.int32_t(ffi.StatusNullPointer)
	}
	bytecode := C.GoBytes(unsafe.Pointer(bytesPtr), C.int(length))
	status := ffi.LoadPlugin(uint64(engine), bytecode)
	return C.int32_t(status)
}

//export zenith_free
func zenith_free(engine C.uint64_t) {
	ffi.Free(uint64(engine))
}

func main() {}
