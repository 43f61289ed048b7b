package connections

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

func TestNewEndpointID(t *testing.T) {
	re := regexp.MustCompile(`^[0-9A-F]{8}$`)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewEndpointID()
		if !re.MatchString(id) {
			t.Fatalf("Malformed endpoint id %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 95 {
		t.Errorf("Expected mostly unique ids, got %d distinct of 100", len(seen))
	}
}

func TestNewPayloadIDNonZero(t *testing.T) {
	for i := 0; i < 100; i++ {
		if newPayloadID() == 0 {
			t.Fatal("Payload id must not be zero")
		}
	}
}

func TestAuthTokenIsSymmetric(t *testing.T) {
	a, b := authToken("3F9A0C21", "77B1E0D4"), authToken("77B1E0D4", "3F9A0C21")
	if a != b {
		t.Errorf("Expected equal tokens, got %s and %s", a, b)
	}
	if !regexp.MustCompile(`^[0-9]{4}$`).MatchString(a) {
		t.Errorf("Expected four digits, got %q", a)
	}
}

func TestTempFileHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rx.part")
	if err := os.WriteFile(path, []byte("paper"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	h := tempFileHandle{path: path}
	rc, err := h.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "paper" {
		t.Errorf("Expected 'paper', got %q", data)
	}

	if err := h.Remove(); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := h.Remove(); err != nil {
		t.Errorf("Second Remove should be a no-op, got %v", err)
	}
}

func TestMemoryHandle(t *testing.T) {
	h := &memoryHandle{}
	h.write([]byte("sci"))
	h.write([]byte("ssors"))

	rc, err := h.Open()
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	var buf bytes.Buffer
	_, _ = io.Copy(&buf, rc)
	if buf.String() != "scissors" {
		t.Errorf("Expected 'scissors', got %q", buf.String())
	}

	_ = h.Remove()
	rc, err = h.Open()
	if err != nil {
		t.Fatalf("Open after Remove failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	if len(data) != 0 {
		t.Errorf("Expected no data after Remove, got %q", data)
	}
}
