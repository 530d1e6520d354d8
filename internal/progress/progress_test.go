package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestDrawSuppressedWhenDisabledOrEmpty(t *testing.T) {
	var buf bytes.Buffer
	b := &Bar{W: &buf, Enabled: false}
	b.Draw(1, 10)
	if buf.Len() != 0 {
		t.Fatalf("Draw wrote output while disabled: %q", buf.String())
	}

	b = &Bar{W: &buf, Enabled: true}
	b.Draw(0, 0)
	if buf.Len() != 0 {
		t.Fatalf("Draw wrote output for tot == 0: %q", buf.String())
	}
}

func TestDrawFinalFrameHasTrailingNewline(t *testing.T) {
	var buf bytes.Buffer
	b := &Bar{W: &buf, Enabled: true}
	b.Draw(3, 3)
	if !strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("final frame = %q, want trailing newline", buf.String())
	}
	if !strings.Contains(buf.String(), "3/3") {
		t.Fatalf("final frame = %q, want to contain 3/3", buf.String())
	}
}

func TestDrawMidBuildHasNoNewline(t *testing.T) {
	var buf bytes.Buffer
	b := &Bar{W: &buf, Enabled: true}
	b.Draw(1, 3)
	if strings.HasSuffix(buf.String(), "\n") {
		t.Fatalf("mid-build frame = %q, should not end with newline", buf.String())
	}
}

func TestDrawUsesHashFillAboveMaxCells(t *testing.T) {
	var buf bytes.Buffer
	b := &Bar{W: &buf, Enabled: true}
	b.Draw(20, 80)
	if !strings.Contains(buf.String(), "#") {
		t.Fatalf("frame = %q, want '#' fill when tot > 40", buf.String())
	}
}
