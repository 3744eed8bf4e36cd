// Package storage keeps enrolled face templates per member.
// Templates are encrypted at rest using NaCl secretbox.
package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/enrollment"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/matching"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	membersDir = "members"
)

// MemberRecord is the stored template of one member.
type MemberRecord struct {
	MemberID   string              `json:"member_id"`
	Scopes     []string            `json:"scopes,omitempty"`
	Template   enrollment.Template `json:"template"`
	EnrolledAt time.Time           `json:"enrolled_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

// InScope reports whether the record belongs to scope. The empty scope
// contains every member.
func (r MemberRecord) InScope(scope string) bool {
	return scope == "" || slices.Contains(r.Scopes, scope)
}

// ErrMemberNotFound is returned when the member has no stored template.
var ErrMemberNotFound = errors.New("member not found")

// ErrInvalidMemberID is returned for ids that cannot name a file.
var ErrInvalidMemberID = errors.New("invalid member id")

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// FileStorage stores one file per member under <dataDir>/members.
// It implements capture.Registry and capture.EnrollmentSink.
type FileStorage struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte

	mu sync.RWMutex
}

// NewFileStorage creates a new FileStorage instance.
func NewFileStorage(dataDir string, encryptionEnabled bool) (*FileStorage, error) {
	fs := &FileStorage{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
	}

	if encryptionEnabled {
		key, err := deriveKey()
		if err != nil {
			return nil, fmt.Errorf("failed to derive encryption key: %w", err)
		}
		fs.encryptionKey = key
	}

	if err := os.MkdirAll(filepath.Join(dataDir, membersDir), 0700); err != nil {
		return nil, fmt.Errorf("failed to create members directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted templates to this specific machine.
func deriveKey() ([KeySize]byte, error) {
	var key [KeySize]byte

	var identity strings.Builder
	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facecheckin-v1-salt")

	hash := sha256.Sum256([]byte(identity.String()))
	copy(key[:], hash[:])

	return key, nil
}

func validMemberID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidMemberID, id)
	}
	return nil
}

func (fs *FileStorage) memberPath(memberID string) string {
	filename := memberID + ".json"
	if fs.encryptionEnabled {
		filename = memberID + ".enc"
	}
	return filepath.Join(fs.dataDir, membersDir, filename)
}

// StoreTemplate saves tmpl as the template of memberID, replacing any
// prior template. Scopes, metadata and the first enrollment time survive.
func (fs *FileStorage) StoreTemplate(ctx context.Context, memberID string, tmpl enrollment.Template) error {
	if err := validMemberID(memberID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := time.Now()
	rec, err := fs.load(memberID)
	switch {
	case errors.Is(err, ErrMemberNotFound):
		rec = &MemberRecord{MemberID: memberID, EnrolledAt: now}
	case err != nil:
		return err
	}
	rec.Template = tmpl
	rec.UpdatedAt = now

	if err := fs.save(rec); err != nil {
		return err
	}

	logging.Component("storage").WithFields(logging.Fields{
		"member":  memberID,
		"samples": tmpl.SampleCount,
	}).Info("Stored template")
	return nil
}

// SetScopes replaces the scopes memberID belongs to.
func (fs *FileStorage) SetScopes(memberID string, scopes []string) error {
	if err := validMemberID(memberID); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.load(memberID)
	if err != nil {
		return err
	}
	rec.Scopes = append([]string(nil), scopes...)
	rec.UpdatedAt = time.Now()
	return fs.save(rec)
}

// LoadMember returns the stored record of memberID.
func (fs *FileStorage) LoadMember(memberID string) (*MemberRecord, error) {
	if err := validMemberID(memberID); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.load(memberID)
}

// DeleteMember removes the template of memberID.
func (fs *FileStorage) DeleteMember(memberID string) error {
	if err := validMemberID(memberID); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.memberPath(memberID)); err != nil {
		if os.IsNotExist(err) {
			return ErrMemberNotFound
		}
		return fmt.Errorf("failed to delete member data: %w", err)
	}

	logging.Infof("Deleted template for member: %s", memberID)
	return nil
}

// ListMembers returns the ids of all members with a stored template, sorted.
func (fs *FileStorage) ListMembers() ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.listIDs()
}

// ListTemplates returns the templates of all members in scope, ordered by
// member id. Unreadable records are skipped.
func (fs *FileStorage) ListTemplates(ctx context.Context, scope string) ([]matching.Entry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	ids, err := fs.listIDs()
	if err != nil {
		return nil, err
	}

	entries := make([]matching.Entry, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := fs.load(id)
		if err != nil {
			logging.Component("storage").WithError(err).Warnf("Skipping member %s", id)
			continue
		}
		if !rec.InScope(scope) {
			continue
		}
		entries = append(entries, matching.Entry{ID: rec.MemberID, Descriptor: rec.Template.Descriptor})
	}
	return entries, nil
}

func (fs *FileStorage) listIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(fs.dataDir, membersDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	suffix := ".json"
	if fs.encryptionEnabled {
		suffix = ".enc"
	}

	ids := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if name := entry.Name(); strings.HasSuffix(name, suffix) {
			ids = append(ids, strings.TrimSuffix(name, suffix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (fs *FileStorage) load(memberID string) (*MemberRecord, error) {
	data, err := os.ReadFile(fs.memberPath(memberID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to read member data: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt member data: %w", err)
		}
	}

	var rec MemberRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal member data: %w", err)
	}
	return &rec, nil
}

// save writes rec through a temp file so readers never see a partial record.
func (fs *FileStorage) save(rec *MemberRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal member data: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt member data: %w", err)
		}
	}

	path := fs.memberPath(rec.MemberID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write member data: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write member data: %w", err)
	}

	logging.Debugf("Saved template for member: %s", rec.MemberID)
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStorage) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStorage) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
