package v1

import (
	"errors"
	"testing"
)

func TestValidateFrameSize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in int
		ok bool
	}{
		{in: DefaultFrameSize, ok: true},
		{in: MinFrameSize, ok: true},
		{in: MinFrameSize - BlockSize, ok: false},
		{in: 4095, ok: false},
		{in: 32, ok: false},
		{in: MaxFrameSize + BlockSize, ok: false},
	}

	for _, tc := range cases {
		err := ValidateFrameSize(tc.in)
		if tc.ok && err != nil {
			t.Fatalf("ValidateFrameSize(%d) unexpected err=%v", tc.in, err)
		}
		if !tc.ok && !errors.Is(err, ErrFrameSizeInvalid) {
			t.Fatalf("ValidateFrameSize(%d) err=%v want ErrFrameSizeInvalid", tc.in, err)
		}
	}
}

func TestMaxPayload(t *testing.T) {
	t.Parallel()

	if got := MaxPayload(DefaultFrameSize); got != 4060 {
		t.Fatalf("MaxPayload(4096)=%d want 4060", got)
	}
	if got := MaxMessageData(DefaultFrameSize); got != 4050 {
		t.Fatalf("MaxMessageData(4096)=%d want 4050", got)
	}
}

func TestRejectionFrame(t *testing.T) {
	t.Parallel()

	f := RejectionFrame(DefaultFrameSize)
	if len(f) != DefaultFrameSize {
		t.Fatalf("len=%d want %d", len(f), DefaultFrameSize)
	}
	if !IsRejection(f) {
		t.Fatalf("expected rejection frame to be recognised")
	}

	f[len(f)-1] = 1
	if IsRejection(f) {
		t.Fatalf("non-zero fill must not be a rejection frame")
	}
}

func TestWelcomeRoundTrip(t *testing.T) {
	t.Parallel()

	addr, ok := ParseWelcome([]byte(WelcomeText("127.0.0.1:51234")))
	if !ok || addr != "127.0.0.1:51234" {
		t.Fatalf("ParseWelcome=%q,%v", addr, ok)
	}
	if _, ok := ParseWelcome([]byte("hello")); ok {
		t.Fatalf("expected parse failure")
	}
}
