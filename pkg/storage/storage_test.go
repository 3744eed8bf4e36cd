package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/enrollment"
	"github.com/MrCodeEU/facecheckin/pkg/recognition"
)

func TestNewFileStorage(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name       string
		dataDir    string
		encryption bool
	}{
		{name: "without encryption", dataDir: filepath.Join(tmpDir, "test1")},
		{name: "with encryption", dataDir: filepath.Join(tmpDir, "test2"), encryption: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs, err := NewFileStorage(tt.dataDir, tt.encryption)
			if err != nil {
				t.Fatalf("NewFileStorage() error = %v", err)
			}
			if fs == nil {
				t.Fatal("NewFileStorage returned nil")
			}
			if _, err := os.Stat(filepath.Join(tt.dataDir, "members")); os.IsNotExist(err) {
				t.Error("members directory was not created")
			}
		})
	}
}

func TestFileStorage_StoreAndLoad(t *testing.T) {
	for _, encrypted := range []bool{false, true} {
		name := "plain"
		if encrypted {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			tmpDir := t.TempDir()
			fs, err := NewFileStorage(tmpDir, encrypted)
			if err != nil {
				t.Fatalf("failed to create storage: %v", err)
			}

			tmpl := testTemplate(0.25, 3)
			if err := fs.StoreTemplate(context.Background(), "m-1", tmpl); err != nil {
				t.Fatalf("StoreTemplate failed: %v", err)
			}

			rec, err := fs.LoadMember("m-1")
			if err != nil {
				t.Fatalf("LoadMember failed: %v", err)
			}
			if rec.MemberID != "m-1" {
				t.Errorf("member id mismatch: got %s", rec.MemberID)
			}
			if rec.Template.Descriptor != tmpl.Descriptor {
				t.Error("descriptor not preserved")
			}
			if rec.Template.SampleCount != 3 || string(rec.Template.Image) != "jpeg" {
				t.Errorf("template fields not preserved: %+v", rec.Template)
			}
			if rec.EnrolledAt.IsZero() || rec.UpdatedAt.IsZero() {
				t.Error("timestamps not set")
			}

			ext := ".json"
			if encrypted {
				ext = ".enc"
			}
			data, err := os.ReadFile(filepath.Join(tmpDir, "members", "m-1"+ext))
			if err != nil {
				t.Fatalf("failed to read member file: %v", err)
			}
			if encrypted && len(data) > 0 && data[0] == '{' {
				t.Error("file does not appear to be encrypted")
			}
			if !encrypted && data[0] != '{' {
				t.Error("plain file should be JSON")
			}
		})
	}
}

func TestFileStorage_StoreReplacesTemplate(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()

	if err := fs.StoreTemplate(ctx, "m-1", testTemplate(0.1, 3)); err != nil {
		t.Fatalf("first StoreTemplate failed: %v", err)
	}
	if err := fs.SetScopes("m-1", []string{"sunday"}); err != nil {
		t.Fatalf("SetScopes failed: %v", err)
	}
	first, _ := fs.LoadMember("m-1")

	time.Sleep(10 * time.Millisecond)
	if err := fs.StoreTemplate(ctx, "m-1", testTemplate(0.9, 5)); err != nil {
		t.Fatalf("second StoreTemplate failed: %v", err)
	}

	rec, err := fs.LoadMember("m-1")
	if err != nil {
		t.Fatalf("LoadMember failed: %v", err)
	}
	if rec.Template.Descriptor[0] != 0.9 || rec.Template.SampleCount != 5 {
		t.Errorf("template was not replaced: %+v", rec.Template)
	}
	if !rec.EnrolledAt.Equal(first.EnrolledAt) {
		t.Error("EnrolledAt should survive re-enrollment")
	}
	if !rec.UpdatedAt.After(first.UpdatedAt) {
		t.Error("UpdatedAt should advance")
	}
	if !rec.InScope("sunday") {
		t.Error("scopes should survive re-enrollment")
	}

	members, _ := fs.ListMembers()
	if len(members) != 1 {
		t.Errorf("expected a single member after re-enrollment, got %v", members)
	}
}

func TestFileStorage_ListTemplates(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), true)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()

	entries, err := fs.ListTemplates(ctx, "")
	if err != nil {
		t.Fatalf("ListTemplates failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(entries))
	}

	for i, id := range []string{"carol", "alice", "bob"} {
		if err := fs.StoreTemplate(ctx, id, testTemplate(float32(i), 3)); err != nil {
			t.Fatalf("StoreTemplate(%s) failed: %v", id, err)
		}
	}
	if err := fs.SetScopes("alice", []string{"sunday", "choir"}); err != nil {
		t.Fatalf("SetScopes failed: %v", err)
	}
	if err := fs.SetScopes("carol", []string{"choir"}); err != nil {
		t.Fatalf("SetScopes failed: %v", err)
	}

	tests := []struct {
		scope string
		want  []string
	}{
		{scope: "", want: []string{"alice", "bob", "carol"}},
		{scope: "choir", want: []string{"alice", "carol"}},
		{scope: "sunday", want: []string{"alice"}},
		{scope: "youth", want: nil},
	}

	for _, tt := range tests {
		t.Run("scope "+tt.scope, func(t *testing.T) {
			entries, err := fs.ListTemplates(ctx, tt.scope)
			if err != nil {
				t.Fatalf("ListTemplates failed: %v", err)
			}
			if len(entries) != len(tt.want) {
				t.Fatalf("expected %v, got %d entries", tt.want, len(entries))
			}
			for i, e := range entries {
				if e.ID != tt.want[i] {
					t.Errorf("entry %d: got %s, want %s", i, e.ID, tt.want[i])
				}
			}
		})
	}

	entries, _ = fs.ListTemplates(ctx, "")
	if entries[2].Descriptor[0] != 0 {
		t.Errorf("carol's descriptor mismatch: %v", entries[2].Descriptor[0])
	}
}

func TestFileStorage_ListTemplatesCancelled(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	if err := fs.StoreTemplate(context.Background(), "m-1", testTemplate(0.1, 3)); err != nil {
		t.Fatalf("StoreTemplate failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fs.ListTemplates(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFileStorage_SkipsCorruptRecords(t *testing.T) {
	tmpDir := t.TempDir()
	fs, err := NewFileStorage(tmpDir, true)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()

	if err := fs.StoreTemplate(ctx, "good", testTemplate(0.1, 3)); err != nil {
		t.Fatalf("StoreTemplate failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "members", "bad.enc"), []byte("short"), 0600); err != nil {
		t.Fatalf("failed to write corrupt record: %v", err)
	}

	entries, err := fs.ListTemplates(ctx, "")
	if err != nil {
		t.Fatalf("ListTemplates failed: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "good" {
		t.Errorf("expected only the readable record, got %+v", entries)
	}

	if _, err := fs.LoadMember("bad"); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption, got %v", err)
	}
}

func TestFileStorage_NotFound(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if _, err := fs.LoadMember("nonexistent"); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("LoadMember: expected ErrMemberNotFound, got %v", err)
	}
	if err := fs.DeleteMember("nonexistent"); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("DeleteMember: expected ErrMemberNotFound, got %v", err)
	}
	if err := fs.SetScopes("nonexistent", []string{"x"}); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("SetScopes: expected ErrMemberNotFound, got %v", err)
	}
}

func TestFileStorage_DeleteMember(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	ctx := context.Background()

	if err := fs.StoreTemplate(ctx, "todelete", testTemplate(0.3, 3)); err != nil {
		t.Fatalf("StoreTemplate failed: %v", err)
	}
	if err := fs.DeleteMember("todelete"); err != nil {
		t.Fatalf("DeleteMember failed: %v", err)
	}

	members, err := fs.ListMembers()
	if err != nil {
		t.Fatalf("ListMembers failed: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("expected no members after delete, got %v", members)
	}
}

func TestFileStorage_InvalidMemberID(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	for _, id := range []string{"", ".", "..", "../escape", `a\b`, "a/b"} {
		t.Run(id, func(t *testing.T) {
			err := fs.StoreTemplate(context.Background(), id, testTemplate(0.1, 3))
			if !errors.Is(err, ErrInvalidMemberID) {
				t.Errorf("expected ErrInvalidMemberID, got %v", err)
			}
		})
	}
}

func TestFileStorage_EncryptDecrypt(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), true)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	plaintext := []byte("template payload")
	ciphertext, err := fs.encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if len(ciphertext) <= NonceSize {
		t.Fatal("ciphertext too short")
	}

	decrypted, err := fs.decrypt(ciphertext)
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if string(decrypted) != string(plaintext) {
		t.Errorf("decrypted mismatch: got %q", decrypted)
	}

	ciphertext[len(ciphertext)-1] ^= 0xff
	if _, err := fs.decrypt(ciphertext); !errors.Is(err, ErrEncryption) {
		t.Errorf("tampered ciphertext: expected ErrEncryption, got %v", err)
	}
}

func testTemplate(v float32, samples int) enrollment.Template {
	var d recognition.Descriptor
	for i := range d {
		d[i] = v
	}
	return enrollment.Template{Descriptor: d, Image: []byte("jpeg"), SampleCount: samples}
}
