package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"report-filing-bot/llm"
	"report-filing-bot/models"
)

// memStore mirrors the compare-and-swap semantics of the MySQL store
type memStore struct {
	mu      sync.Mutex
	reports map[int64]*models.Report
	nextID  int64
	now     time.Time
	touches int
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{reports: make(map[int64]*models.Report), now: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
}

func (m *memStore) CreateReport(_ context.Context, r *models.Report) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	r.CreatedAt = m.now
	r.LastUpdatedAt = m.now
	cp := *r
	m.reports[r.ID] = &cp
	return r.ID, nil
}

func (m *memStore) GetReport(_ context.Context, id int64) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	r, ok := m.reports[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpdateFields(_ context.Context, id int64, u models.ReportUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return false, nil
	}
	if len(u.ExpectStatus) > 0 {
		match := false
		for _, s := range u.ExpectStatus {
			if r.Status == s {
				match = true
			}
		}
		if !match {
			return false, nil
		}
	}
	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.OutboundMessageID != nil && r.OutboundMessageID == "" {
		r.OutboundMessageID = *u.OutboundMessageID
	}
	if u.IncrementFollowUp {
		r.FollowUpCount++
	}
	if u.Status != nil || u.Touch {
		r.LastUpdatedAt = m.now.Add(time.Minute)
	}
	if u.Touch {
		m.touches++
	}
	return true, nil
}

func (m *memStore) get(id int64) models.Report {
	r, _ := m.GetReport(context.Background(), id)
	if r == nil {
		return models.Report{}
	}
	return *r
}

func (m *memStore) put(r models.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID > m.nextID {
		m.nextID = r.ID
	}
	m.reports[r.ID] = &r
}

type fakeLLM struct {
	fields     *models.Fields
	extractErr error
	draftErr   error
	followErr  error
	drafts     int
	followUps  int
}

func (f *fakeLLM) ExtractFields(context.Context, string) (*models.Fields, error) {
	if f.extractErr != nil {
		return nil, f.extractErr
	}
	cp := *f.fields
	return &cp, nil
}

func (f *fakeLLM) DraftComplaint(_ context.Context, fields models.Fields) (string, error) {
	f.drafts++
	if f.draftErr != nil {
		return "", f.draftErr
	}
	return "Dear Government Official, about " + fields.SubjectName, nil
}

func (f *fakeLLM) DraftFollowUp(_ context.Context, r models.Report) (string, error) {
	f.followUps++
	if f.followErr != nil {
		return "", f.followErr
	}
	return "Following up on " + r.SubjectName, nil
}

func (f *fakeLLM) SourceName() string { return "Fake" }

var _ llm.Client = (*fakeLLM)(nil)

type fakeMailer struct {
	mu   sync.Mutex
	sent []models.OutboundMail
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m models.OutboundMail) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, m)
	return fmt.Sprintf("<msg-%d@example.com>", len(f.sent)), nil
}

type notification struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu    sync.Mutex
	sent  []notification
	err   error
	delay time.Duration
}

func (f *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, notification{chatID, text})
	return nil
}

func (f *fakeNotifier) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].text
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeInbox struct {
	replies map[int64][]models.InboundMessage
	err     error
	seen    []uint32
}

func (f *fakeInbox) FindReplies(_ context.Context, reportID int64) ([]models.InboundMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.replies[reportID], nil
}

func (f *fakeInbox) MarkSeen(_ context.Context, uids []uint32) error {
	f.seen = append(f.seen, uids...)
	return nil
}

type fakeEvents struct {
	events []models.ReportEvent
}

func (f *fakeEvents) PublishReportEvent(_ context.Context, e models.ReportEvent) error {
	f.events = append(f.events, e)
	return errors.New("broker unavailable")
}
