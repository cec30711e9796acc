package xdebug

import (
	"errors"
	"testing"
)

func TestStructuredError(t *testing.T) {
	err := NewError("mem_rd32", KindBadParams, "address not word-aligned")

	if err.Op != "mem_rd32" {
		t.Errorf("expected Op=mem_rd32, got %s", err.Op)
	}
	if err.Kind != KindBadParams {
		t.Errorf("expected Kind=KindBadParams, got %s", err.Kind)
	}

	expected := "xdebug: address not word-aligned (op=mem_rd32)"
	if err.Error() != expected {
		t.Errorf("expected error message %q, got %q", expected, err.Error())
	}
}

func TestAddrErrorIncludesAddress(t *testing.T) {
	err := NewAddrError("mem_rd32", 0x20000001, KindBadParams, "address not word-aligned")
	if err.Addr != 0x20000001 {
		t.Errorf("expected Addr=0x20000001, got %#x", err.Addr)
	}
}

func TestWrapIOErrorPreservesInner(t *testing.T) {
	inner := errors.New("broken pipe")
	err := WrapIOError("transfer", inner)

	if err.Kind != KindIO {
		t.Errorf("expected Kind=KindIO, got %s", err.Kind)
	}
	if !errors.Is(err, inner) {
		t.Errorf("expected errors.Is to find wrapped inner error")
	}
}

func TestIsKindMatchesOnKindAlone(t *testing.T) {
	err := NewError("core_halt", KindTimeout, "core did not halt")
	if !IsKind(err, KindTimeout) {
		t.Errorf("expected IsKind to match KindTimeout")
	}
	if IsKind(err, KindFailed) {
		t.Errorf("expected IsKind not to match a different Kind")
	}
}
