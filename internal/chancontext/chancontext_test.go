package chancontext

import (
	"fmt"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache(time.Hour)
	c.Set("C1", Entry{RecordURL: "https://notion.so/x", FolderURL: "https://share/x"})
	e, ok := c.Get("C1")
	if !ok || e.RecordURL != "https://notion.so/x" || !e.HasFolder() {
		t.Fatalf("unexpected entry %+v (%v)", e, ok)
	}
	c.Delete("C1")
	if _, ok := c.Get("C1"); ok {
		t.Error("entry still present after Delete")
	}
}

func TestCache_Expires(t *testing.T) {
	c := NewCache(20 * time.Millisecond)
	c.Set("C1", Entry{FolderID: "f"})
	time.Sleep(40 * time.Millisecond)
	if _, ok := c.Get("C1"); ok {
		t.Error("expected entry to expire")
	}
}

func TestPromptedFiles_MarkOnce(t *testing.T) {
	p := NewPromptedFiles(10)
	if !p.MarkOnce("F1") {
		t.Fatal("first mark should be new")
	}
	if p.MarkOnce("F1") {
		t.Error("second mark should be a repeat")
	}
}

func TestPromptedFiles_ResetsPastCap(t *testing.T) {
	p := NewPromptedFiles(3)
	for i := 0; i < 3; i++ {
		p.MarkOnce(fmt.Sprintf("F%d", i))
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 files, got %d", p.Len())
	}
	if !p.MarkOnce("F3") {
		t.Fatal("F3 should be new")
	}
	if p.Len() != 1 {
		t.Errorf("expected set to reset to the newest file, got %d", p.Len())
	}
	if !p.MarkOnce("F0") {
		t.Error("F0 should be promptable again after reset")
	}
}
