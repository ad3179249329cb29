package cli

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0ms"},
		{time.Millisecond, "1ms"},
		{999 * time.Millisecond, "999ms"},
		{time.Second, "1.0s"},
		{1500 * time.Millisecond, "1.5s"},
		{59 * time.Second, "59.0s"},
		{time.Minute, "1m0.0s"},
		{90 * time.Second, "1m30.0s"},
		{125500 * time.Millisecond, "2m5.5s"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatDuration(tt.d)
			if got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{4096, "4.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.00 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatBytes(tt.bytes)
			if got != tt.want {
				t.Errorf("FormatBytes(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		in   []byte
		want string
	}{
		{[]byte("hello"), "hello"},
		{[]byte("a\nb\tc"), "a\nb\tc"},
		{[]byte{0x00, 'x'}, `"\x00x"`},
		{[]byte{0x7f}, `"\x7f"`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFillBar(t *testing.T) {
	tests := []struct {
		n, capacity, width int
		want               string
	}{
		{0, 4096, 4, "░░░░"},
		{1, 4096, 4, "█░░░"},
		{2048, 4096, 4, "██░░"},
		{4096, 4096, 4, "████"},
		{1, 0, 4, ""},
	}
	for _, tt := range tests {
		if got := FillBar(tt.n, tt.capacity, tt.width); got != tt.want {
			t.Errorf("FillBar(%d, %d, %d) = %q, want %q", tt.n, tt.capacity, tt.width, got, tt.want)
		}
	}
}
