// Package memory is an in-memory Store implementation. It enforces the same
// uniqueness constraints as the postgres store so pipeline tests exercise
// the real dedupe and idempotency paths.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ibimina/saccopay/internal/models"
	"github.com/ibimina/saccopay/internal/storage"
)

type Store struct {
	mu sync.Mutex

	messages   map[uuid.UUID]*models.RawMessage
	groups     map[uuid.UUID]*models.Group
	members    map[uuid.UUID]*models.Member
	payments   map[uuid.UUID]*models.Payment
	accounts   map[uuid.UUID]*models.LedgerAccount
	entries    map[uuid.UUID]*models.LedgerEntry
	exceptions map[uuid.UUID]*models.ReconException
	jobs       map[uuid.UUID]*models.NotificationJob
	templates  map[uuid.UUID]*models.MessageTemplate
	pollers    map[uuid.UUID]*models.PollerConfig
	staging    map[uuid.UUID]*models.StagingRow
	reconJobs  map[uuid.UUID]*models.ReconciliationJob
	audits     []*models.AuditEntry
	metrics    []*models.Metric
	buckets    map[string]int
}

func NewStore() *Store {
	return &Store{
		messages:   make(map[uuid.UUID]*models.RawMessage),
		groups:     make(map[uuid.UUID]*models.Group),
		members:    make(map[uuid.UUID]*models.Member),
		payments:   make(map[uuid.UUID]*models.Payment),
		accounts:   make(map[uuid.UUID]*models.LedgerAccount),
		entries:    make(map[uuid.UUID]*models.LedgerEntry),
		exceptions: make(map[uuid.UUID]*models.ReconException),
		jobs:       make(map[uuid.UUID]*models.NotificationJob),
		templates:  make(map[uuid.UUID]*models.MessageTemplate),
		pollers:    make(map[uuid.UUID]*models.PollerConfig),
		staging:    make(map[uuid.UUID]*models.StagingRow),
		reconJobs:  make(map[uuid.UUID]*models.ReconciliationJob),
		buckets:    make(map[string]int),
	}
}

// Seed helpers used by tests and the CLI's demo mode.

func (s *Store) AddGroup(g *models.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.groups[g.ID] = &cp
}

func (s *Store) AddMember(m *models.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.members[m.ID] = &cp
}

func (s *Store) AddTemplate(t *models.MessageTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.templates[t.ID] = &cp
}

func (s *Store) AddPoller(p *models.PollerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.pollers[p.ID] = &cp
}

// SetMessageReceivedAt backdates a message; tests use it to age records
// past sweep thresholds.
func (s *Store) SetMessageReceivedAt(id uuid.UUID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg, ok := s.messages[id]; ok {
		msg.ReceivedAt = at
	}
}

// Messages

func (s *Store) InsertMessage(_ context.Context, msg *models.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*models.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *msg
	return &cp, nil
}

func (s *Store) UpdateMessageParse(_ context.Context, msg *models.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.messages[msg.ID]
	if !ok {
		return storage.ErrNotFound
	}
	existing.Status = msg.Status
	existing.ParseSource = msg.ParseSource
	existing.Confidence = msg.Confidence
	existing.ParseError = msg.ParseError
	existing.SaccoID = msg.SaccoID
	return nil
}

func (s *Store) MarkMessageStatus(_ context.Context, id uuid.UUID, status models.MessageStatus, parseErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return storage.ErrNotFound
	}
	msg.Status = status
	msg.ParseError = parseErr
	return nil
}

func (s *Store) ClaimStaleMessages(_ context.Context, statuses []models.MessageStatus, cutoff time.Time, limit int) ([]*models.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eligible := make(map[models.MessageStatus]bool, len(statuses))
	for _, st := range statuses {
		eligible[st] = true
	}
	var claimed []*models.RawMessage
	for _, msg := range s.messages {
		if len(claimed) >= limit {
			break
		}
		if eligible[msg.Status] && msg.ReceivedAt.Before(cutoff) {
			msg.Status = models.MessageStatusProcessing
			cp := *msg
			claimed = append(claimed, &cp)
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ReceivedAt.Before(claimed[j].ReceivedAt) })
	return claimed, nil
}

// Directory

func (s *Store) FindActiveGroupByCode(_ context.Context, code string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Code == code && g.Active {
			cp := *g
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) FindActiveMember(_ context.Context, groupID uuid.UUID, code string) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.GroupID == groupID && m.Code == code && m.Active {
			cp := *m
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// Payments

func (s *Store) InsertPayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.TxnID == p.TxnID {
			return storage.ErrDuplicate
		}
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *Store) GetPayment(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) FindPaymentByTxnID(_ context.Context, txnID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.TxnID == txnID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) UpdatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payments[p.ID]; !ok {
		return storage.ErrNotFound
	}
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *Store) ListStalePayments(_ context.Context, statuses []models.PaymentStatus, cutoff time.Time, limit int) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	eligible := make(map[models.PaymentStatus]bool, len(statuses))
	for _, st := range statuses {
		eligible[st] = true
	}
	var out []*models.Payment
	for _, p := range s.payments {
		if len(out) >= limit {
			break
		}
		if eligible[p.Status] && p.OccurredAt.Before(cutoff) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Ledger

func (s *Store) FindAccount(_ context.Context, ownerType models.AccountOwnerType, ownerID uuid.UUID, currency string) (*models.LedgerAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if a.OwnerType == ownerType && a.OwnerID == ownerID && a.Currency == currency {
			cp := *a
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) InsertAccount(_ context.Context, a *models.LedgerAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.accounts {
		if existing.OwnerType == a.OwnerType && existing.OwnerID == a.OwnerID && existing.Currency == a.Currency {
			return storage.ErrDuplicate
		}
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *Store) FindEntry(_ context.Context, externalID uuid.UUID, memo models.EntryMemo) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ExternalID == externalID && e.Memo == memo {
			cp := *e
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) InsertEntry(_ context.Context, e *models.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries {
		if existing.ExternalID == e.ExternalID && existing.Memo == e.Memo {
			return storage.ErrDuplicate
		}
	}
	cp := *e
	s.entries[e.ID] = &cp
	return nil
}

func (s *Store) AccountBalance(_ context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	balance := decimal.Zero
	for _, e := range s.entries {
		if e.CreditID == accountID {
			balance = balance.Add(e.Amount)
		}
		if e.DebitID == accountID {
			balance = balance.Sub(e.Amount)
		}
	}
	return balance, nil
}

// Exceptions

func (s *Store) FindOpenException(_ context.Context, paymentID uuid.UUID) (*models.ReconException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exceptions {
		if e.PaymentID == paymentID && e.Status == models.ExceptionStatusOpen {
			cp := *e
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) InsertException(_ context.Context, e *models.ReconException) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.exceptions {
		if existing.PaymentID == e.PaymentID && existing.Status == models.ExceptionStatusOpen {
			return storage.ErrDuplicate
		}
	}
	cp := *e
	s.exceptions[e.ID] = &cp
	return nil
}

func (s *Store) ResolveException(_ context.Context, paymentID uuid.UUID, note string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.exceptions {
		if e.PaymentID == paymentID && e.Status == models.ExceptionStatusOpen {
			e.Status = models.ExceptionStatusResolved
			e.Note = note
			resolved := at
			e.ResolvedAt = &resolved
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) ListExceptions(_ context.Context, saccoID *uuid.UUID, status models.ExceptionStatus, limit int) ([]*models.ReconException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ReconException
	for _, e := range s.exceptions {
		if len(out) >= limit {
			break
		}
		if e.Status != status {
			continue
		}
		if saccoID != nil {
			p, ok := s.payments[e.PaymentID]
			if !ok || p.SaccoID != *saccoID {
				continue
			}
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Notifications

func (s *Store) EnqueueNotification(_ context.Context, job *models.NotificationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) DueNotifications(_ context.Context, channel models.NotificationChannel, now time.Time, limit int) ([]*models.NotificationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.NotificationJob
	for _, j := range s.jobs {
		if j.Channel == channel && j.Status == models.NotificationStatusPending && !j.ScheduledFor.After(now) {
			cp := *j
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) ClaimNotification(_ context.Context, id uuid.UUID, at time.Time) (*models.NotificationJob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false, storage.ErrNotFound
	}
	if j.Status != models.NotificationStatusPending {
		return nil, false, nil
	}
	j.Status = models.NotificationStatusProcessing
	j.Attempts++
	attemptAt := at
	j.LastAttemptAt = &attemptAt
	cp := *j
	return &cp, true, nil
}

func (s *Store) MarkNotificationDelivered(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.Status = models.NotificationStatusDelivered
	processed := at
	j.ProcessedAt = &processed
	j.LastError = ""
	j.RetryAfter = nil
	return nil
}

func (s *Store) MarkNotificationFailed(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.Status = models.NotificationStatusFailed
	processed := at
	j.ProcessedAt = &processed
	j.LastError = reason
	j.RetryAfter = nil
	return nil
}

func (s *Store) RescheduleNotification(_ context.Context, id uuid.UUID, retryAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.Status = models.NotificationStatusPending
	j.ScheduledFor = retryAt
	retry := retryAt
	j.RetryAfter = &retry
	j.LastError = reason
	return nil
}

func (s *Store) GetTemplate(_ context.Context, id uuid.UUID) (*models.MessageTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// GetNotification returns a job snapshot; tests use it to assert outcomes.
func (s *Store) GetNotification(id uuid.UUID) (*models.NotificationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *j
	return &cp, true
}

// Pollers

func (s *Store) ListActivePollers(_ context.Context) ([]*models.PollerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PollerConfig
	for _, p := range s.pollers {
		if p.Status == models.PollerStatusActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (s *Store) UpdatePollerResult(_ context.Context, pollerID uuid.UUID, cursor string, avgLatencyMs *int64, count int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pollers[pollerID]
	if !ok {
		return storage.ErrNotFound
	}
	p.Cursor = cursor
	p.LastLatencyMs = avgLatencyMs
	p.LastPolledCount = count
	polled := at
	p.LastPolledAt = &polled
	p.LastError = ""
	return nil
}

func (s *Store) RecordPollerError(_ context.Context, pollerID uuid.UUID, message string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pollers[pollerID]
	if !ok {
		return storage.ErrNotFound
	}
	p.LastError = message
	polled := at
	p.LastPolledAt = &polled
	return nil
}

func (s *Store) InsertStagingRow(_ context.Context, row *models.StagingRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.staging {
		if existing.PollerID == row.PollerID && existing.ExternalID == row.ExternalID {
			return storage.ErrDuplicate
		}
	}
	cp := *row
	s.staging[row.ID] = &cp
	return nil
}

func (s *Store) MarkStagingQueued(_ context.Context, stagingID, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.staging[stagingID]
	if !ok {
		return storage.ErrNotFound
	}
	row.Status = models.StagingStatusQueued
	job := jobID
	row.QueuedJobID = &job
	return nil
}

func (s *Store) GetStagingRow(_ context.Context, id uuid.UUID) (*models.StagingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.staging[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *Store) InsertReconJob(_ context.Context, job *models.ReconciliationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.reconJobs[job.ID] = &cp
	return nil
}

func (s *Store) PendingReconJobs(_ context.Context, limit int) ([]*models.ReconciliationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ReconciliationJob
	for _, j := range s.reconJobs {
		if len(out) >= limit {
			break
		}
		if j.Status == models.ReconJobStatusPending {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	return out, nil
}

func (s *Store) UpdateReconJobStatus(_ context.Context, id uuid.UUID, status models.ReconJobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.reconJobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	j.Status = status
	return nil
}

// ReconJobCount reports how many reconciliation jobs exist; tests use it to
// assert exactly-one-job-per-staging-row.
func (s *Store) ReconJobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reconJobs)
}

// StagingCount reports how many staging rows exist.
func (s *Store) StagingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staging)
}

// Audit and metrics

func (s *Store) InsertAudit(_ context.Context, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *entry
	s.audits = append(s.audits, &cp)
	return nil
}

// Audits returns a snapshot of recorded audit entries.
func (s *Store) Audits() []*models.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *Store) RecordMetric(_ context.Context, m *models.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.metrics = append(s.metrics, &cp)
	return nil
}

// MetricCount reports how many samples were recorded under a counter name.
func (s *Store) MetricCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.metrics {
		if m.Name == name {
			n++
		}
	}
	return n
}

// Rate limiting

func (s *Store) IncrementBucket(_ context.Context, bucket string, windowStart time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := bucket + "@" + windowStart.UTC().Format(time.RFC3339)
	s.buckets[key]++
	return s.buckets[key], nil
}

var _ storage.Store = (*Store)(nil)
