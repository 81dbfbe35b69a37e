// Copyright (C) 2024 Michael J. Fromberger. All Rights Reserved.

package packet_test

import (
	"errors"
	"io"
	"testing"

	"github.com/creachadair/ipkchat/packet"
	"github.com/google/go-cmp/cmp"
)

func TestBuilder(t *testing.T) {
	var b packet.Builder
	b.Put(0x04)
	b.Uint16(5000)
	b.Bool(true)
	b.CString("apple")
	b.CString("")

	const want = "\x04\x13\x88\x01apple\x00\x00"
	//             ^   ^------ ^   ^---------  ^--
	//          byte  uint16  bool  cstring  empty

	if string(b.Bytes()) != want {
		t.Errorf("Bytes = %q, want %q", b.Bytes(), want)
	}

	s := packet.NewScanner(b.Bytes())
	check(t, "Byte", s.Byte, 4)
	check(t, "Uint16", s.Uint16, 5000)
	check(t, "Bool", s.Bool, true)
	check(t, "CString 1", s.CString, "apple")
	check(t, "CString 2", s.CString, "")
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestScannerErrors(t *testing.T) {
	t.Run("Byte", func(t *testing.T) {
		s := packet.NewScanner("")
		if _, err := s.Byte(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("Byte: got %v, want %v", err, io.ErrUnexpectedEOF)
		}
	})
	t.Run("Uint16", func(t *testing.T) {
		s := packet.NewScanner("\x01")
		if _, err := s.Uint16(); !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("Uint16: got %v, want %v", err, io.ErrUnexpectedEOF)
		}
		if s.Len() != 1 {
			t.Errorf("Len after failed Uint16 = %d, want 1", s.Len())
		}
	})
	t.Run("CString", func(t *testing.T) {
		s := packet.NewScanner("no terminator")
		if _, err := s.CString(); !errors.Is(err, packet.ErrNoTerminator) {
			t.Errorf("CString: got %v, want %v", err, packet.ErrNoTerminator)
		}
	})
}

func check[T any](t *testing.T, label string, f func() (T, error), want T) {
	t.Helper()

	got, err := f()
	if err != nil {
		t.Errorf("%s: unexpected error: %v", label, err)
	} else if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("%s result (-got, +want):\n%s", label, diff)
	}
}
