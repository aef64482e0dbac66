package ffi_test

import (
	"testing"

	"github.com/zenith-fleet/zenith/internal/ffi"
)

func TestInit_ReturnsUsableHandle(t *testing.T) {
	handle, ok := ffi.Init(16)
	if !ok || handle == 0 {
		t.Fatalf("Init failed: handle=%d ok=%v", handle, ok)
	}
	ffi.Free(handle)
}

func TestPublish_NullPayloadReturnsNullPointerStatus(t *testing.T) {
	handle, _ := ffi.Init(16)
	defer ffi.Free(handle)

	status := ffi.Publish(handle, nil, 1, 1)
	if status != ffi.StatusNullPointer {
		t.Fatalf("status = %d, want %d", status, ffi.StatusNullPointer)
	}
}

func TestPublish_UnknownHandleReturnsNullPointerStatus(t *testing.T) {
	status := ffi.Publish(999999, []byte{1, 2, 3}, 1, 1)
	if status != ffi.StatusNullPointer {
		t.Fatalf("status = %d, want %d", status, ffi.StatusNullPointer)
	}
}

func TestPublish_SucceedsWithinCapacity(t *testing.T) {
	handle, _ := ffi.Init(16)
	defer ffi.Free(handle)

	status := ffi.Publish(handle, []byte{1, 2, 3}, 1, 1)
	if status != ffi.StatusOK {
		t.Fatalf("status = %d, want %d", status, ffi.StatusOK)
	}
}

func TestPublish_ReturnsBufferFullWhenRingExhausted(t *testing.T) {
	handle, _ := ffi.Init(1)
	defer ffi.Free(handle)

	if status := ffi.Publish(handle, []byte{1}, 1, 1); status != ffi.StatusOK {
		t.Fatalf("first publish status = %d, want %d", status, ffi.StatusOK)
	}
	if status := ffi.Publish(handle, []byte{1}, 1, 2); status != ffi.StatusBufferFull {
		t.Fatalf("second publish status = %d, want %d", status, ffi.StatusBufferFull)
	}
}

func TestLoadPlugin_RejectsInvalidBytecodeAsBufferFull(t *testing.T) {
	handle, _ := ffi.Init(16)
	defer ffi.Free(handle)

	status := ffi.LoadPlugin(handle, []byte(`not valid js {{{`))
	if status != ffi.StatusBufferFull {
		t.Fatalf("status = %d, want %d", status, ffi.StatusBufferFull)
	}
}

func TestFree_DoubleFreeIsSilentNoOp(t *testing.T) {
	handle, _ := ffi.Init(16)
	ffi.Free(handle)
	ffi.Free(handle)
}
