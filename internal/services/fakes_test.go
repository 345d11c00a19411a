package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"escrow-backend/internal/models"
	"escrow-backend/internal/rail"
	"escrow-backend/internal/repository"

	"gorm.io/gorm"
)

// In-memory repository fakes. They copy on read and write like a real
// database would, and enforce the same guarded-update semantics as the gorm
// implementations.

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: map[string]*models.Task{}}
}

func (r *fakeTaskRepo) Create(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) GetByID(_ context.Context, id string) (*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *task
	return &cp, nil
}

func (r *fakeTaskRepo) List(_ context.Context, limit int) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Task
	for _, task := range r.tasks {
		cp := *task
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) ListByCreator(_ context.Context, creatorID string, limit int) ([]*models.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Task
	for _, task := range r.tasks {
		if task.CreatorID == creatorID {
			cp := *task
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) Update(_ context.Context, task *models.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.ID] = &cp
	return nil
}

func (r *fakeTaskRepo) UpdateStatusGuarded(_ context.Context, id string, from []models.TaskStatus, to models.TaskStatus, extra map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return repository.ErrNoRowsUpdated
	}
	matched := false
	for _, s := range from {
		if task.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return repository.ErrNoRowsUpdated
	}
	task.Status = to
	if reason, ok := extra["cancel_reason"].(string); ok {
		task.CancelReason = reason
	}
	return nil
}

type fakeEscrowRepo struct {
	mu      sync.Mutex
	escrows map[string]*models.Escrow
}

func newFakeEscrowRepo() *fakeEscrowRepo {
	return &fakeEscrowRepo{escrows: map[string]*models.Escrow{}}
}

func (r *fakeEscrowRepo) Create(_ context.Context, escrow *models.Escrow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.escrows {
		if existing.TaskID == escrow.TaskID {
			return gorm.ErrDuplicatedKey
		}
	}
	cp := *escrow
	r.escrows[escrow.ID] = &cp
	return nil
}

func (r *fakeEscrowRepo) GetByID(_ context.Context, id string) (*models.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	escrow, ok := r.escrows[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *escrow
	return &cp, nil
}

func (r *fakeEscrowRepo) GetByTaskID(_ context.Context, taskID string) (*models.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, escrow := range r.escrows {
		if escrow.TaskID == taskID {
			cp := *escrow
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeEscrowRepo) ListByDepositor(_ context.Context, depositorID string, limit int) ([]*models.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Escrow
	for _, escrow := range r.escrows {
		if escrow.DepositorID == depositorID {
			cp := *escrow
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEscrowRepo) ListLocked(_ context.Context) ([]*models.Escrow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Escrow
	for _, escrow := range r.escrows {
		if escrow.Status == models.EscrowStatusLocked {
			cp := *escrow
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEscrowRepo) MarkReleased(_ context.Context, id string, txID string, recipient string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	escrow, ok := r.escrows[id]
	if !ok || escrow.Status != models.EscrowStatusLocked {
		return repository.ErrNoRowsUpdated
	}
	now := time.Now()
	escrow.Status = models.EscrowStatusReleased
	escrow.RailTransactionID = txID
	escrow.RecipientAddress = recipient
	escrow.ReleasedAt = &now
	return nil
}

func (r *fakeEscrowRepo) MarkRefunded(_ context.Context, id string, txID string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	escrow, ok := r.escrows[id]
	if !ok || escrow.Status != models.EscrowStatusLocked {
		return repository.ErrNoRowsUpdated
	}
	now := time.Now()
	escrow.Status = models.EscrowStatusRefunded
	escrow.RailTransactionID = txID
	escrow.RefundReason = reason
	escrow.RefundedAt = &now
	return nil
}

// forceStatus flips an escrow behind the service's back, simulating a
// concurrent settlement that committed first.
func (r *fakeEscrowRepo) forceStatus(id string, status models.EscrowStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if escrow, ok := r.escrows[id]; ok {
		escrow.Status = status
	}
}

// forceDepositedAt backdates an escrow behind the service's back, so tests
// can age a seeded escrow without re-creating it.
func (r *fakeEscrowRepo) forceDepositedAt(id string, depositedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if escrow, ok := r.escrows[id]; ok {
		escrow.DepositedAt = depositedAt
	}
}

type fakeSubmissionRepo struct {
	mu          sync.Mutex
	submissions map[string]*models.Submission
}

func newFakeSubmissionRepo() *fakeSubmissionRepo {
	return &fakeSubmissionRepo{submissions: map[string]*models.Submission{}}
}

func (r *fakeSubmissionRepo) Create(_ context.Context, submission *models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *submission
	r.submissions[submission.ID] = &cp
	return nil
}

func (r *fakeSubmissionRepo) GetByID(_ context.Context, id string) (*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *submission
	return &cp, nil
}

func (r *fakeSubmissionRepo) ListByTask(_ context.Context, taskID string) ([]*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Submission
	for _, submission := range r.submissions {
		if submission.TaskID == taskID {
			cp := *submission
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSubmissionRepo) GetLatestByTask(_ context.Context, taskID string) (*models.Submission, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.Submission
	for _, submission := range r.submissions {
		if submission.TaskID != taskID {
			continue
		}
		if latest == nil || submission.SubmittedAt.After(latest.SubmittedAt) {
			latest = submission
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *fakeSubmissionRepo) Update(_ context.Context, submission *models.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *submission
	r.submissions[submission.ID] = &cp
	return nil
}

func (r *fakeSubmissionRepo) SetVerificationOutcome(_ context.Context, id string, status models.SubmissionStatus, verifStatus models.VerificationStatus, resultJSON string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	submission, ok := r.submissions[id]
	if !ok || submission.VerificationStatus != models.VerificationStatusProcessing {
		return repository.ErrNoRowsUpdated
	}
	submission.Status = status
	submission.VerificationStatus = verifStatus
	submission.VerificationResult = resultJSON
	return nil
}

type fakeDisputeRepo struct {
	mu       sync.Mutex
	disputes map[string]*models.Dispute
}

func newFakeDisputeRepo() *fakeDisputeRepo {
	return &fakeDisputeRepo{disputes: map[string]*models.Dispute{}}
}

func (r *fakeDisputeRepo) Create(_ context.Context, dispute *models.Dispute) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *dispute
	r.disputes[dispute.ID] = &cp
	return nil
}

func (r *fakeDisputeRepo) GetByID(_ context.Context, id string) (*models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dispute, ok := r.disputes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *dispute
	return &cp, nil
}

func (r *fakeDisputeRepo) GetOpenByTask(_ context.Context, taskID string) (*models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dispute := range r.disputes {
		if dispute.TaskID == taskID && dispute.Status == models.DisputeStatusOpen {
			cp := *dispute
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeDisputeRepo) ListByTask(_ context.Context, taskID string) ([]*models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Dispute
	for _, dispute := range r.disputes {
		if dispute.TaskID == taskID {
			cp := *dispute
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDisputeRepo) ListOpen(_ context.Context, limit int) ([]*models.Dispute, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Dispute
	for _, dispute := range r.disputes {
		if dispute.Status == models.DisputeStatusOpen {
			cp := *dispute
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDisputeRepo) Resolve(_ context.Context, id string, status models.DisputeStatus, resolution string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dispute, ok := r.disputes[id]
	if !ok || dispute.Status != models.DisputeStatusOpen {
		return repository.ErrNoRowsUpdated
	}
	dispute.Status = status
	dispute.Resolution = resolution
	return nil
}

type fakeDeadLetterRepo struct {
	mu      sync.Mutex
	records map[string]*models.DeadLetterRefund // keyed by task id
}

func newFakeDeadLetterRepo() *fakeDeadLetterRepo {
	return &fakeDeadLetterRepo{records: map[string]*models.DeadLetterRefund{}}
}

func (r *fakeDeadLetterRepo) Upsert(_ context.Context, record *models.DeadLetterRefund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.records[record.TaskID] = &cp
	return nil
}

func (r *fakeDeadLetterRepo) GetByTaskID(_ context.Context, taskID string) (*models.DeadLetterRefund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[taskID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *record
	return &cp, nil
}

func (r *fakeDeadLetterRepo) ListPending(_ context.Context, limit int) ([]*models.DeadLetterRefund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.DeadLetterRefund
	for _, record := range r.records {
		if record.Status == models.DeadLetterStatusPending {
			cp := *record
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeDeadLetterRepo) Update(_ context.Context, record *models.DeadLetterRefund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.records[record.TaskID] = &cp
	return nil
}

// fakeRail is a scriptable settlement rail. Hooks override the default
// behavior of returning a fresh transaction id.
type fakeRail struct {
	name string

	depositFn func(taskID string, amount int64, proof rail.DepositProof) (string, error)
	releaseFn func(taskID, recipient string) (string, error)
	refundFn  func(taskID string) (string, error)
	state     *rail.EscrowState

	mu           sync.Mutex
	depositCalls int
	releaseCalls int
	refundCalls  int
}

func newFakeRail() *fakeRail {
	return &fakeRail{name: "token", state: &rail.EscrowState{Exists: false, Phase: rail.PhaseUnknown}}
}

func (f *fakeRail) Name() string { return f.name }

func (f *fakeRail) Deposit(_ context.Context, taskID string, amount int64, proof rail.DepositProof) (string, error) {
	f.mu.Lock()
	f.depositCalls++
	f.mu.Unlock()
	if f.depositFn != nil {
		return f.depositFn(taskID, amount, proof)
	}
	return fmt.Sprintf("dep-tx-%s", taskID), nil
}

func (f *fakeRail) Release(_ context.Context, taskID string, recipient string) (string, error) {
	f.mu.Lock()
	f.releaseCalls++
	f.mu.Unlock()
	if f.releaseFn != nil {
		return f.releaseFn(taskID, recipient)
	}
	return fmt.Sprintf("rel-tx-%s", taskID), nil
}

func (f *fakeRail) Refund(_ context.Context, taskID string) (string, error) {
	f.mu.Lock()
	f.refundCalls++
	f.mu.Unlock()
	if f.refundFn != nil {
		return f.refundFn(taskID)
	}
	return fmt.Sprintf("ref-tx-%s", taskID), nil
}

func (f *fakeRail) GetEscrowState(_ context.Context, taskID string) (*rail.EscrowState, error) {
	return f.state, nil
}

func (f *fakeRail) Ready(_ context.Context) error { return nil }

// fakeVerifier returns a canned verdict or error.
type fakeVerifier struct {
	mu     sync.Mutex
	result *models.VerificationResult
	err    error
	calls  int
}

func (f *fakeVerifier) Verify(_ context.Context, _ *models.Submission, _ *models.Task) (*models.VerificationResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// recordingNotifier captures emitted events.
type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(event string, _ string, _ map[string]interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

// testEnv bundles the fakes behind a wired settlement service.
type testEnv struct {
	tasks       *fakeTaskRepo
	escrows     *fakeEscrowRepo
	submissions *fakeSubmissionRepo
	disputes    *fakeDisputeRepo
	railFake    *fakeRail
	verifier    *fakeVerifier
	notifier    *recordingNotifier
	svc         *SettlementService
}

func newTestEnv() *testEnv {
	env := &testEnv{
		tasks:       newFakeTaskRepo(),
		escrows:     newFakeEscrowRepo(),
		submissions: newFakeSubmissionRepo(),
		disputes:    newFakeDisputeRepo(),
		railFake:    newFakeRail(),
		verifier:    &fakeVerifier{},
		notifier:    &recordingNotifier{},
	}
	env.svc = NewSettlementService(
		env.tasks,
		env.escrows,
		env.submissions,
		env.disputes,
		map[models.PaymentMethod]rail.SettlementRail{models.PaymentMethodToken: env.railFake},
		env.verifier,
		env.notifier,
	)
	return env
}
