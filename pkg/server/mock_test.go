package server

import (
	"context"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/attendance"
	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/storage"
)

// MockSessions implements Sessions for testing
type MockSessions struct {
	StartEnrollmentFunc   func(memberID, profile string) (capture.SessionInfo, error)
	StartVerificationFunc func(scope, profile string) (capture.SessionInfo, error)
	CurrentFunc           func() (capture.SessionInfo, error)
	StopFunc              func(ctx context.Context) error
}

func (m *MockSessions) StartEnrollment(memberID, profile string) (capture.SessionInfo, error) {
	if m.StartEnrollmentFunc != nil {
		return m.StartEnrollmentFunc(memberID, profile)
	}
	return capture.SessionInfo{ID: "s-1", Mode: capture.ModeEnroll, MemberID: memberID, Profile: profile}, nil
}

func (m *MockSessions) StartVerification(scope, profile string) (capture.SessionInfo, error) {
	if m.StartVerificationFunc != nil {
		return m.StartVerificationFunc(scope, profile)
	}
	return capture.SessionInfo{ID: "s-1", Mode: capture.ModeVerify, Scope: scope, Profile: profile}, nil
}

func (m *MockSessions) Current() (capture.SessionInfo, error) {
	if m.CurrentFunc != nil {
		return m.CurrentFunc()
	}
	return capture.SessionInfo{}, capture.ErrNoSession
}

func (m *MockSessions) Stop(ctx context.Context) error {
	if m.StopFunc != nil {
		return m.StopFunc(ctx)
	}
	return capture.ErrNoSession
}

// MockMembers implements Members for testing
type MockMembers struct {
	records map[string]*storage.MemberRecord
}

func (m *MockMembers) ListMembers() ([]string, error) {
	ids := []string{}
	for _, id := range []string{"alice", "bob", "carol"} {
		if _, ok := m.records[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MockMembers) LoadMember(memberID string) (*storage.MemberRecord, error) {
	if memberID == "invalid" {
		return nil, storage.ErrInvalidMemberID
	}
	rec, ok := m.records[memberID]
	if !ok {
		return nil, storage.ErrMemberNotFound
	}
	return rec, nil
}

func (m *MockMembers) DeleteMember(memberID string) error {
	if _, ok := m.records[memberID]; !ok {
		return storage.ErrMemberNotFound
	}
	delete(m.records, memberID)
	return nil
}

// MockAttendance implements Attendance for testing
type MockAttendance struct {
	ForDayFunc    func(ctx context.Context, t time.Time) ([]attendance.CheckIn, error)
	CheckedInFunc func(ctx context.Context, memberID string, t time.Time) (bool, error)
}

func (m *MockAttendance) ForDay(ctx context.Context, t time.Time) ([]attendance.CheckIn, error) {
	if m.ForDayFunc != nil {
		return m.ForDayFunc(ctx, t)
	}
	return nil, nil
}

func (m *MockAttendance) CheckedIn(ctx context.Context, memberID string, t time.Time) (bool, error) {
	if m.CheckedInFunc != nil {
		return m.CheckedInFunc(ctx, memberID, t)
	}
	return false, nil
}
