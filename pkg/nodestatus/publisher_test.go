package nodestatus

import "testing"

type fakeCacheWriter struct {
	values  map[string][]byte
	expiry  map[string]int32
	deleted map[string]bool
}

func newFakeCacheWriter() *fakeCacheWriter {
	return &fakeCacheWriter{values: map[string][]byte{}, expiry: map[string]int32{}, deleted: map[string]bool{}}
}

func (f *fakeCacheWriter) Set(key string, value []byte, expirySeconds int32) error {
	f.values[key] = value
	f.expiry[key] = expirySeconds
	delete(f.deleted, key)
	return nil
}

func (f *fakeCacheWriter) Delete(key string) error {
	delete(f.values, key)
	f.deleted[key] = true
	return nil
}

func TestMarkDown(t *testing.T) {
	c := newFakeCacheWriter()
	p := New(c)
	if err := p.MarkDown("node1"); err != nil {
		t.Fatalf("MarkDown: %v", err)
	}
	if string(c.values["status:node1"]) != Down {
		t.Errorf("value = %q, want %q", c.values["status:node1"], Down)
	}
}

func TestMarkBackoffEncodesSeconds(t *testing.T) {
	c := newFakeCacheWriter()
	p := New(c)
	if err := p.MarkBackoff("node1", 9); err != nil {
		t.Fatalf("MarkBackoff: %v", err)
	}
	if string(c.values["status:node1"]) != "backoff:9" {
		t.Errorf("value = %q, want backoff:9", c.values["status:node1"])
	}
}

func TestClearRemovesEntry(t *testing.T) {
	c := newFakeCacheWriter()
	p := New(c)
	_ = p.MarkDraining("node1")
	if err := p.Clear("node1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if !c.deleted["status:node1"] {
		t.Errorf("expected status:node1 to be deleted")
	}
}
