// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package errors

import (
	"errors"
	"testing"
)

func TestError(t *testing.T) {
	err := New(KindValidation, "invalid rule")
	if err.Error() != "invalid rule" {
		t.Errorf("expected 'invalid rule', got '%s'", err.Error())
	}

	wrapped := Wrap(err, KindStorage, "failed to persist")
	if wrapped.Error() != "failed to persist: invalid rule" {
		t.Errorf("expected 'failed to persist: invalid rule', got '%s'", wrapped.Error())
	}
}

func TestGetKind(t *testing.T) {
	err := New(KindValidation, "invalid rule")
	if GetKind(err) != KindValidation {
		t.Errorf("expected KindValidation, got %v", GetKind(err))
	}

	wrapped := Wrap(err, KindStorage, "failed")
	if GetKind(wrapped) != KindStorage {
		t.Errorf("expected KindStorage, got %v", GetKind(wrapped))
	}

	if GetKind(errors.New("std error")) != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", GetKind(errors.New("std error")))
	}
}

func TestSentinel(t *testing.T) {
	errFull := NewSentinel(KindCapacity, "table full")

	if GetKind(errFull) != KindCapacity {
		t.Errorf("expected KindCapacity, got %v", GetKind(errFull))
	}
	if GetKind(fmtWrap(errFull)) != KindCapacity {
		t.Errorf("expected wrapped sentinel to keep KindCapacity")
	}
	if !Is(fmtWrap(errFull), errFull) {
		t.Error("expected Is to see through wrapping")
	}

	attributed := Attr(errFull, "capacity", 10)
	if GetKind(attributed) != KindCapacity {
		t.Errorf("expected Attr to keep sentinel kind, got %v", GetKind(attributed))
	}
}

func TestAttributes(t *testing.T) {
	err := New(KindValidation, "invalid rule")
	err = Attr(err, "field", "dest_port")
	err = Attr(err, "value", 70000)

	attrs := GetAttributes(err)
	if attrs["field"] != "dest_port" {
		t.Errorf("expected dest_port, got %v", attrs["field"])
	}
	if attrs["value"] != 70000 {
		t.Errorf("expected 70000, got %v", attrs["value"])
	}

	wrapped := Wrap(err, KindInternal, "failed")
	wrapped = Attr(wrapped, "operation", "create")

	allAttrs := GetAttributes(wrapped)
	if allAttrs["field"] != "dest_port" || allAttrs["operation"] != "create" {
		t.Errorf("missing attributes: %v", allAttrs)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		KindBounds:   "bounds",
		KindCapacity: "capacity",
		KindStorage:  "storage",
		KindConflict: "conflict",
		Kind(99):     "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, k.String(), want)
		}
	}
}

func fmtWrap(err error) error {
	return Wrap(err, KindUnknown, "context")
}
