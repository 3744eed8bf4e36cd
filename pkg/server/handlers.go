package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/attendance"
	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/storage"
	"github.com/go-chi/chi/v5"
)

// StartSessionRequest is the body of POST /api/sessions.
type StartSessionRequest struct {
	Mode     string `json:"mode"`
	MemberID string `json:"member_id,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Profile  string `json:"profile,omitempty"`
}

// MemberSummary describes an enrolled member without its descriptor.
type MemberSummary struct {
	MemberID    string    `json:"member_id"`
	Scopes      []string  `json:"scopes,omitempty"`
	SampleCount int       `json:"sample_count"`
	EnrolledAt  time.Time `json:"enrolled_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func summarize(rec *storage.MemberRecord) MemberSummary {
	return MemberSummary{
		MemberID:    rec.MemberID,
		Scopes:      rec.Scopes,
		SampleCount: rec.Template.SampleCount,
		EnrolledAt:  rec.EnrolledAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var (
		info capture.SessionInfo
		err  error
	)
	switch req.Mode {
	case capture.ModeEnroll:
		if req.MemberID == "" {
			respondError(w, http.StatusBadRequest, "member_id is required for enrollment")
			return
		}
		info, err = s.sessions.StartEnrollment(req.MemberID, req.Profile)
	case capture.ModeVerify:
		info, err = s.sessions.StartVerification(req.Scope, req.Profile)
	default:
		respondError(w, http.StatusBadRequest, "mode must be enroll or verify")
		return
	}

	switch {
	case errors.Is(err, capture.ErrSessionActive):
		respondError(w, http.StatusConflict, "a capture session is already running")
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondJSON(w, http.StatusCreated, info)
	}
}

func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.sessions.Current()
	if errors.Is(err, capture.ErrNoSession) {
		respondError(w, http.StatusNotFound, "no capture session")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.Stop(r.Context())
	if errors.Is(err, capture.ErrNoSession) {
		respondError(w, http.StatusNotFound, "no capture session")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.currentSession(w, r)
}

// events streams capture events as server-sent events until the client
// disconnects.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	if info, err := s.sessions.Current(); err == nil {
		data, _ := json.Marshal(info)
		sendSSEEvent(w, flusher, "session", data)
	} else {
		// headers go out even when there is nothing to replay
		flusher.Flush()
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, msg.kind, msg.data)
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data []byte) {
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(data))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	ids, err := s.members.ListMembers()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	members := make([]MemberSummary, 0, len(ids))
	for _, id := range ids {
		rec, err := s.members.LoadMember(id)
		if err != nil {
			logging.Component("http").WithError(err).Warnf("Skipping member %s", id)
			continue
		}
		members = append(members, summarize(rec))
	}
	respondJSON(w, http.StatusOK, members)
}

func (s *Server) getMember(w http.ResponseWriter, r *http.Request) {
	rec, err := s.members.LoadMember(chi.URLParam(r, "id"))
	if err != nil {
		respondMemberError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summarize(rec))
}

func (s *Server) deleteMember(w http.ResponseWriter, r *http.Request) {
	if err := s.members.DeleteMember(chi.URLParam(r, "id")); err != nil {
		respondMemberError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondMemberError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrMemberNotFound):
		respondError(w, http.StatusNotFound, "member not found")
	case errors.Is(err, storage.ErrInvalidMemberID):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// MemberAttendance is the response of GET /api/attendance/{id}.
type MemberAttendance struct {
	MemberID  string `json:"member_id"`
	Day       string `json:"day"`
	CheckedIn bool   `json:"checked_in"`
}

// attendanceDay parses the optional ?day=YYYY-MM-DD query, defaulting to today.
func attendanceDay(r *http.Request) (time.Time, error) {
	day := r.URL.Query().Get("day")
	if day == "" {
		return time.Now(), nil
	}
	return time.ParseInLocation(attendance.DayLayout, day, time.Local)
}

func (s *Server) listAttendance(w http.ResponseWriter, r *http.Request) {
	if s.attendance == nil {
		respondError(w, http.StatusNotFound, "attendance is disabled")
		return
	}
	day, err := attendanceDay(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
		return
	}

	checkIns, err := s.attendance.ForDay(r.Context(), day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if checkIns == nil {
		checkIns = []attendance.CheckIn{}
	}
	respondJSON(w, http.StatusOK, checkIns)
}

func (s *Server) memberAttendance(w http.ResponseWriter, r *http.Request) {
	if s.attendance == nil {
		respondError(w, http.StatusNotFound, "attendance is disabled")
		return
	}
	day, err := attendanceDay(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "day must be formatted as YYYY-MM-DD")
		return
	}

	memberID := chi.URLParam(r, "id")
	ok, err := s.attendance.CheckedIn(r.Context(), memberID, day)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, MemberAttendance{
		MemberID:  memberID,
		Day:       day.Format(attendance.DayLayout),
		CheckedIn: ok,
	})
}
