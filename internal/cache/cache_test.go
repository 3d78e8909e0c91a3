package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smolenkov/conveyor/internal/domain"
	"github.com/smolenkov/conveyor/internal/vars"
)

func resolution(values map[string]any, tainted ...string) *vars.Resolution {
	res := &vars.Resolution{
		Values:        values,
		Display:       values,
		SecretTainted: make(map[string]bool),
	}
	for _, key := range tainted {
		res.SecretTainted[key] = true
	}
	return res
}

func TestFingerprint_Stable(t *testing.T) {
	res := resolution(map[string]any{"url": "https://x", "limit": 10})

	fp1, err := Fingerprint("http", res, []string{"up1", "up2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Порядок upstream не важен
	fp2, err := Fingerprint("http", res, []string{"up2", "up1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp1 != fp2 {
		t.Error("fingerprint must not depend on upstream order")
	}
}

func TestFingerprint_ChangesWithInputs(t *testing.T) {
	res := resolution(map[string]any{"url": "https://x"})

	base, _ := Fingerprint("http", res, []string{"up1"})

	otherType, _ := Fingerprint("delay", res, []string{"up1"})
	if otherType == base {
		t.Error("node type must affect fingerprint")
	}

	otherConfig, _ := Fingerprint("http", resolution(map[string]any{"url": "https://y"}), []string{"up1"})
	if otherConfig == base {
		t.Error("config must affect fingerprint")
	}

	otherUpstream, _ := Fingerprint("http", res, []string{"up9"})
	if otherUpstream == base {
		t.Error("upstream outputs must affect fingerprint")
	}
}

func TestFingerprint_SecretMarker(t *testing.T) {
	withSecret, err := Fingerprint("http",
		resolution(map[string]any{"token": "s3cr3t-value"}, "token"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Смена секрета меняет fingerprint
	otherSecret, _ := Fingerprint("http",
		resolution(map[string]any{"token": "another-value"}, "token"), nil)
	if withSecret == otherSecret {
		t.Error("secret value must affect fingerprint")
	}

	// Но сам fingerprint — hex-хэш, секрет в нём не появляется
	if strings.Contains(withSecret, "s3cr3t") {
		t.Error("fingerprint must not contain the secret")
	}
}

func TestMemory_StoreLookup(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	output := &domain.Output{Payload: map[string]any{"rows": 3}, Schema: "table"}
	if err := m.Store(ctx, "fp1", output, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok, err := m.Lookup(ctx, "fp1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Schema != "table" {
		t.Errorf("unexpected output: %+v", got)
	}

	_, ok, _ = m.Lookup(ctx, "missing")
	if ok {
		t.Error("expected miss for unknown fingerprint")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	m := NewMemory(10)
	ctx := context.Background()

	current := time.Now()
	m.now = func() time.Time { return current }

	m.Store(ctx, "fp1", &domain.Output{}, time.Minute)

	// До истечения TTL — hit
	if _, ok, _ := m.Lookup(ctx, "fp1"); !ok {
		t.Fatal("expected hit before expiry")
	}

	// После — запись трактуется как отсутствующая и удаляется
	current = current.Add(2 * time.Minute)
	if _, ok, _ := m.Lookup(ctx, "fp1"); ok {
		t.Error("expected miss after expiry")
	}
	if m.Len() != 0 {
		t.Errorf("expired entry should be evicted lazily, len=%d", m.Len())
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()

	m.Store(ctx, "a", &domain.Output{}, time.Minute)
	m.Store(ctx, "b", &domain.Output{}, time.Minute)

	// Трогаем "a", чтобы LRU оказался "b"
	m.Lookup(ctx, "a")

	m.Store(ctx, "c", &domain.Output{}, time.Minute)

	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}
	if _, ok, _ := m.Lookup(ctx, "b"); ok {
		t.Error("least recently used entry should be evicted")
	}
	if _, ok, _ := m.Lookup(ctx, "a"); !ok {
		t.Error("recently used entry should survive")
	}
}

func TestDisabled_AlwaysMisses(t *testing.T) {
	var c Disabled
	ctx := context.Background()

	if err := c.Store(ctx, "fp", &domain.Output{}, time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok, _ := c.Lookup(ctx, "fp"); ok {
		t.Error("disabled cache must always miss")
	}
}
