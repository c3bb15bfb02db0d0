package sync

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"mailsync_server/core/domain"
	"mailsync_server/core/port/out"
	"mailsync_server/core/service/auth"
	"mailsync_server/pkg/apperr"
	"mailsync_server/pkg/snowflake"
)

func init() {
	_ = snowflake.Init(1)
}

// =============================================================================
// In-memory fakes
// =============================================================================

type memJobRepo struct {
	jobs map[int64]*domain.SyncJob

	// onReload runs on every GetByID, simulating concurrent writes
	// (cancellation) between page fetches.
	onReload func(*domain.SyncJob)

	// staleView, when set, is what reads return instead of the stored
	// row, simulating a snapshot that another writer has outrun.
	staleView *domain.SyncJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[int64]*domain.SyncJob)}
}

func (r *memJobRepo) Create(ctx context.Context, job *domain.SyncJob) error {
	for _, j := range r.jobs {
		if j.UserID == job.UserID && j.Status.IsActive() {
			return apperr.SyncAlreadyRunning()
		}
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, id int64) (*domain.SyncJob, error) {
	if r.staleView != nil && r.staleView.ID == id {
		cp := *r.staleView
		return &cp, nil
	}
	j, ok := r.jobs[id]
	if !ok {
		return nil, apperr.NotFound("sync job")
	}
	if r.onReload != nil {
		r.onReload(j)
	}
	cp := *j
	return &cp, nil
}

func (r *memJobRepo) GetByIDForUser(ctx context.Context, id int64, userID uuid.UUID) (*domain.SyncJob, error) {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.UserID != userID {
		return nil, apperr.NotFound("sync job")
	}
	return j, nil
}

func (r *memJobRepo) Update(ctx context.Context, job *domain.SyncJob) error {
	stored, ok := r.jobs[job.ID]
	if !ok {
		return apperr.NotFound("sync job")
	}
	// Cancellation wins over a late progress write.
	if stored.Status == domain.JobStatusCancelled && job.Status == domain.JobStatusRunning {
		job.Status = domain.JobStatusCancelled
	}
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memJobRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID) (*domain.SyncJob, error) {
	for _, j := range r.jobs {
		if j.UserID == userID && j.Status.IsActive() {
			cp := *j
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memJobRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.SyncJob, int, error) {
	var jobs []*domain.SyncJob
	for _, j := range r.jobs {
		if j.UserID == userID {
			cp := *j
			jobs = append(jobs, &cp)
		}
	}
	return jobs, len(jobs), nil
}

func (r *memJobRepo) Cancel(ctx context.Context, id int64, statusMessage string) error {
	j, ok := r.jobs[id]
	if !ok {
		return apperr.NotFound("sync job")
	}
	// Same guard the SQL statement carries: only RUNNING is cancellable.
	if j.Status != domain.JobStatusRunning {
		return apperr.SyncNotActive(id)
	}
	j.Status = domain.JobStatusCancelled
	j.StatusMessage = statusMessage
	j.CompletedAt = time.Now()
	return nil
}

type memAccountRepo struct {
	accounts []*domain.EmailAccount
	statuses map[int64]domain.AccountSyncStatus
	errors   map[int64]string
}

func newMemAccountRepo(accounts ...*domain.EmailAccount) *memAccountRepo {
	return &memAccountRepo{
		accounts: accounts,
		statuses: make(map[int64]domain.AccountSyncStatus),
		errors:   make(map[int64]string),
	}
}

func (r *memAccountRepo) GetByID(ctx context.Context, id int64) (*domain.EmailAccount, error) {
	for _, a := range r.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, apperr.NotFound("account")
}

func (r *memAccountRepo) GetByIDForUser(ctx context.Context, id int64, userID uuid.UUID) (*domain.EmailAccount, error) {
	return r.GetByID(ctx, id)
}

func (r *memAccountRepo) FindActiveByUser(ctx context.Context, userID uuid.UUID) ([]*domain.EmailAccount, error) {
	var active []*domain.EmailAccount
	for _, a := range r.accounts {
		if a.UserID == userID && a.IsActive {
			active = append(active, a)
		}
	}
	return active, nil
}

func (r *memAccountRepo) Create(ctx context.Context, account *domain.EmailAccount) error {
	r.accounts = append(r.accounts, account)
	return nil
}

func (r *memAccountRepo) Update(ctx context.Context, account *domain.EmailAccount) error { return nil }

func (r *memAccountRepo) Delete(ctx context.Context, id int64, userID uuid.UUID) error { return nil }

func (r *memAccountRepo) UpdateTokens(ctx context.Context, accountID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (r *memAccountRepo) UpdateSyncStatus(ctx context.Context, accountID int64, status domain.AccountSyncStatus, lastError string) error {
	r.statuses[accountID] = status
	r.errors[accountID] = lastError
	return nil
}

func (r *memAccountRepo) ListUsersDueForSync(ctx context.Context, staleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

type memMailRepo struct {
	existing map[int64]map[string]struct{}
	inserted []*domain.EmailMetadata
}

func newMemMailRepo() *memMailRepo {
	return &memMailRepo{existing: make(map[int64]map[string]struct{})}
}

func (r *memMailRepo) seed(accountID int64, messageIDs ...string) {
	if r.existing[accountID] == nil {
		r.existing[accountID] = make(map[string]struct{})
	}
	for _, id := range messageIDs {
		r.existing[accountID][id] = struct{}{}
	}
}

func (r *memMailRepo) FindExistingMessageIDs(ctx context.Context, accountID int64, messageIDs []string) (map[string]struct{}, error) {
	found := make(map[string]struct{})
	for _, id := range messageIDs {
		if _, ok := r.existing[accountID][id]; ok {
			found[id] = struct{}{}
		}
	}
	return found, nil
}

func (r *memMailRepo) BulkInsert(ctx context.Context, emails []*domain.EmailMetadata) (int, error) {
	for _, e := range emails {
		r.seed(e.AccountID, e.MessageID)
	}
	r.inserted = append(r.inserted, emails...)
	return len(emails), nil
}

func (r *memMailRepo) CountByAccount(ctx context.Context, accountID int64) (int64, error) {
	return int64(len(r.existing[accountID])), nil
}

func (r *memMailRepo) DeleteByAccount(ctx context.Context, accountID int64) error {
	delete(r.existing, accountID)
	return nil
}

type fakeProvider struct {
	name  domain.Provider
	pages []out.MailPage

	fetchCalls   int
	refreshCalls int

	// rejectFirst makes the first FetchPage fail with a token error.
	rejectFirst bool
	fetchErr    error
	refreshErr  error
}

func (p *fakeProvider) Name() domain.Provider { return p.name }

func (p *fakeProvider) FetchPage(ctx context.Context, account *domain.EmailAccount, query *out.MailQuery) (*out.MailPage, error) {
	p.fetchCalls++
	if p.rejectFirst && p.fetchCalls == 1 {
		return nil, apperr.TokenExpired(account.EmailAddress)
	}
	if p.fetchErr != nil {
		return nil, p.fetchErr
	}

	idx := 0
	if query.PageToken != "" {
		fmt.Sscanf(query.PageToken, "page-%d", &idx)
	}
	if idx >= len(p.pages) {
		return &out.MailPage{}, nil
	}

	page := p.pages[idx]
	if idx+1 < len(p.pages) {
		page.NextPageToken = fmt.Sprintf("page-%d", idx+1)
	}
	return &page, nil
}

func (p *fakeProvider) RefreshToken(ctx context.Context, account *domain.EmailAccount) (*out.TokenSet, error) {
	p.refreshCalls++
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &out.TokenSet{
		AccessToken: "refreshed-access",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) ListFolders(ctx context.Context, account *domain.EmailAccount) ([]domain.MailFolder, error) {
	return nil, fmt.Errorf("not used")
}

func (p *fakeProvider) CreateFolder(ctx context.Context, account *domain.EmailAccount, name string) (*domain.MailFolder, error) {
	return nil, fmt.Errorf("not used")
}

func (p *fakeProvider) MoveMessages(ctx context.Context, account *domain.EmailAccount, folderID string, messageIDs []string) error {
	return fmt.Errorf("not used")
}

type captureNotifier struct {
	completed []*domain.SyncJob
	failed    []*domain.SyncJob
	messages  []string
}

func (n *captureNotifier) NotifySyncComplete(ctx context.Context, job *domain.SyncJob) error {
	n.completed = append(n.completed, job)
	n.messages = append(n.messages, fmt.Sprintf("Successfully synced %d emails from %d accounts. %d emails were already synced.",
		job.TotalEmailsSynced, job.TotalAccounts, job.TotalEmailsSkipped))
	return nil
}

func (n *captureNotifier) NotifySyncFailed(ctx context.Context, job *domain.SyncJob) error {
	n.failed = append(n.failed, job)
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func testAccount(id int64, userID uuid.UUID, email string) *domain.EmailAccount {
	return &domain.EmailAccount{
		ID:             id,
		UserID:         userID,
		EmailAddress:   email,
		Provider:       domain.ProviderGmail,
		AccessToken:    "access",
		RefreshToken:   "refresh",
		TokenExpiresAt: time.Now().Add(time.Hour),
		SyncStatus:     domain.AccountStatusPending,
		IsActive:       true,
	}
}

func messagesPage(prefix string, n int, estimate int64) out.MailPage {
	msgs := make([]out.MailMessage, 0, n)
	for i := 0; i < n; i++ {
		msgs = append(msgs, out.MailMessage{
			MessageID: fmt.Sprintf("%s-%d", prefix, i),
			From:      fmt.Sprintf("Sender %d <sender%d@example.com>", i, i),
			To:        "me@example.com",
			Subject:   fmt.Sprintf("Subject %d", i),
			Date:      "Mon, 02 Jan 2023 15:04:05 +0000",
		})
	}
	return out.MailPage{Messages: msgs, TotalEstimate: estimate}
}

type engineFixture struct {
	engine   *Engine
	jobs     *memJobRepo
	accounts *memAccountRepo
	mails    *memMailRepo
	provider *fakeProvider
	notifier *captureNotifier
}

func newEngineFixture(provider *fakeProvider, accounts ...*domain.EmailAccount) *engineFixture {
	f := &engineFixture{
		jobs:     newMemJobRepo(),
		accounts: newMemAccountRepo(accounts...),
		mails:    newMemMailRepo(),
		provider: provider,
		notifier: &captureNotifier{},
	}
	f.engine = NewEngine(
		f.jobs, f.accounts, f.mails,
		NewRegistry(provider),
		auth.NewTokenManager(f.accounts),
		nil, nil, nil,
		f.notifier,
	)
	f.engine.pageDelay = 0
	return f
}

func startAndRun(t *testing.T, f *engineFixture, userID uuid.UUID) *domain.SyncJob {
	t.Helper()
	ctx := context.Background()

	job, err := f.engine.StartSyncJob(ctx, userID, domain.JobTypeFullSync)
	if err != nil {
		t.Fatalf("StartSyncJob() error = %v", err)
	}
	if err := f.engine.RunSyncJob(ctx, job.ID); err != nil {
		t.Fatalf("RunSyncJob() error = %v", err)
	}

	final, err := f.jobs.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	return final
}

// =============================================================================
// Tests
// =============================================================================

func TestStartSyncJob_RejectsSecondActiveJob(t *testing.T) {
	userID := uuid.New()
	f := newEngineFixture(&fakeProvider{name: domain.ProviderGmail}, testAccount(1, userID, "me@example.com"))
	ctx := context.Background()

	if _, err := f.engine.StartSyncJob(ctx, userID, domain.JobTypeFullSync); err != nil {
		t.Fatalf("first StartSyncJob() error = %v", err)
	}

	_, err := f.engine.StartSyncJob(ctx, userID, domain.JobTypeFullSync)
	if !apperr.IsCode(err, apperr.CodeSyncRunning) {
		t.Errorf("second StartSyncJob() error = %v, want code %s", err, apperr.CodeSyncRunning)
	}
}

func TestRunSyncJob_SyncsAndDedups(t *testing.T) {
	userID := uuid.New()
	provider := &fakeProvider{
		name: domain.ProviderGmail,
		pages: []out.MailPage{
			messagesPage("msg-a", 10, 15),
			messagesPage("msg-b", 5, 0),
		},
	}
	f := newEngineFixture(provider, testAccount(1, userID, "me@example.com"))
	f.mails.seed(1, "msg-a-0", "msg-a-1", "msg-a-2")

	job := startAndRun(t, f, userID)

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED", job.Status)
	}
	if job.TotalEmailsSynced != 12 {
		t.Errorf("TotalEmailsSynced = %d, want 12", job.TotalEmailsSynced)
	}
	if job.TotalEmailsSkipped != 3 {
		t.Errorf("TotalEmailsSkipped = %d, want 3", job.TotalEmailsSkipped)
	}
	if job.TotalEmailsProcessed != 15 {
		t.Errorf("TotalEmailsProcessed = %d, want 15", job.TotalEmailsProcessed)
	}
	if job.EstimatedTotalEmails != 15 {
		t.Errorf("EstimatedTotalEmails = %d, want 15", job.EstimatedTotalEmails)
	}
	if job.StatusMessage != "Sync completed successfully" {
		t.Errorf("StatusMessage = %q", job.StatusMessage)
	}
	if job.CurrentAccount != "" {
		t.Errorf("CurrentAccount = %q, want empty", job.CurrentAccount)
	}
	if job.ProcessedAccounts != 1 || job.TotalAccounts != 1 {
		t.Errorf("accounts = %d/%d, want 1/1", job.ProcessedAccounts, job.TotalAccounts)
	}
	if job.CompletedAt.IsZero() {
		t.Error("CompletedAt not set")
	}
	if got := f.accounts.statuses[1]; got != domain.AccountStatusSynced {
		t.Errorf("account status = %s, want SYNCED", got)
	}

	if len(f.notifier.completed) != 1 {
		t.Fatalf("completion notifications = %d, want 1", len(f.notifier.completed))
	}
	want := "Successfully synced 12 emails from 1 accounts. 3 emails were already synced."
	if f.notifier.messages[0] != want {
		t.Errorf("notification = %q, want %q", f.notifier.messages[0], want)
	}
}

func TestRunSyncJob_ParsesMessageFields(t *testing.T) {
	userID := uuid.New()
	provider := &fakeProvider{
		name: domain.ProviderGmail,
		pages: []out.MailPage{{
			Messages: []out.MailMessage{
				{
					MessageID: "m1",
					From:      `"Alice Smith" <ALICE@Example.com>`,
					To:        "me@example.com",
					Subject:   "Hello",
					Date:      "Mon, 02 Jan 2023 15:04:05 +0000",
					IsUnread:  true,
				},
				{
					MessageID: "m2",
					From:      "Me <me@example.com>",
					To:        "alice@example.com",
					Subject:   "Re: Hello",
					Date:      "2023-01-03T10:00:00Z",
				},
			},
		}},
	}
	f := newEngineFixture(provider, testAccount(1, userID, "me@example.com"))

	startAndRun(t, f, userID)

	if len(f.mails.inserted) != 2 {
		t.Fatalf("inserted = %d, want 2", len(f.mails.inserted))
	}

	m1 := f.mails.inserted[0]
	if m1.SenderEmail != "alice@example.com" {
		t.Errorf("m1 SenderEmail = %q", m1.SenderEmail)
	}
	if m1.SenderName != "Alice Smith" {
		t.Errorf("m1 SenderName = %q", m1.SenderName)
	}
	if m1.IsRead {
		t.Error("m1 IsRead = true, want false for unread message")
	}
	if m1.IsFromMe {
		t.Error("m1 IsFromMe = true, want false")
	}

	m2 := f.mails.inserted[1]
	if !m2.IsFromMe {
		t.Error("m2 IsFromMe = false, want true for own address")
	}
	if !m2.IsRead {
		t.Error("m2 IsRead = false, want true")
	}
}

func TestRunSyncJob_CancelStopsBetweenPages(t *testing.T) {
	userID := uuid.New()
	provider := &fakeProvider{
		name: domain.ProviderGmail,
		pages: []out.MailPage{
			messagesPage("msg-a", 5, 0),
			messagesPage("msg-b", 5, 0),
			messagesPage("msg-c", 5, 0),
		},
	}
	f := newEngineFixture(provider, testAccount(1, userID, "me@example.com"))

	// Flip the row to CANCELLED once the first page has been stored,
	// as the cancel endpoint would from another process.
	f.jobs.onReload = func(j *domain.SyncJob) {
		if j.TotalEmailsSynced >= 5 && j.Status == domain.JobStatusRunning {
			j.Status = domain.JobStatusCancelled
			j.StatusMessage = "Cancelled by user"
		}
	}

	ctx := context.Background()
	job, err := f.engine.StartSyncJob(ctx, userID, domain.JobTypeFullSync)
	if err != nil {
		t.Fatalf("StartSyncJob() error = %v", err)
	}
	if err := f.engine.RunSyncJob(ctx, job.ID); err != nil {
		t.Fatalf("RunSyncJob() error = %v", err)
	}

	f.jobs.onReload = nil
	final, _ := f.jobs.GetByID(ctx, job.ID)
	if final.Status != domain.JobStatusCancelled {
		t.Fatalf("Status = %s, want CANCELLED", final.Status)
	}
	if final.StatusMessage != "Cancelled by user" {
		t.Errorf("StatusMessage = %q", final.StatusMessage)
	}
	if len(f.mails.inserted) >= 15 {
		t.Errorf("inserted = %d, want fewer than all pages", len(f.mails.inserted))
	}
	if len(f.notifier.completed) != 0 {
		t.Errorf("completion notifications = %d, want 0 after cancel", len(f.notifier.completed))
	}
}

func TestRunSyncJob_AccountFailureIsIsolated(t *testing.T) {
	userID := uuid.New()
	broken := testAccount(1, userID, "broken@example.com")
	broken.Provider = domain.ProviderOutlook // nothing registered for it

	provider := &fakeProvider{
		name:  domain.ProviderGmail,
		pages: []out.MailPage{messagesPage("ok", 4, 0)},
	}
	f := newEngineFixture(provider, broken, testAccount(2, userID, "ok@example.com"))

	job := startAndRun(t, f, userID)

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED despite one failed account", job.Status)
	}
	if job.TotalEmailsSynced != 4 {
		t.Errorf("TotalEmailsSynced = %d, want 4", job.TotalEmailsSynced)
	}
	if got := f.accounts.statuses[1]; got != domain.AccountStatusError {
		t.Errorf("broken account status = %s, want ERROR", got)
	}
	if got := f.accounts.statuses[2]; got != domain.AccountStatusSynced {
		t.Errorf("healthy account status = %s, want SYNCED", got)
	}
}

func TestRunSyncJob_RefreshesAndRetriesOnRejectedToken(t *testing.T) {
	userID := uuid.New()
	provider := &fakeProvider{
		name:        domain.ProviderGmail,
		rejectFirst: true,
		pages:       []out.MailPage{messagesPage("msg", 3, 0)},
	}
	f := newEngineFixture(provider, testAccount(1, userID, "me@example.com"))

	job := startAndRun(t, f, userID)

	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED", job.Status)
	}
	if provider.refreshCalls != 1 {
		t.Errorf("refreshCalls = %d, want 1", provider.refreshCalls)
	}
	if job.TotalEmailsSynced != 3 {
		t.Errorf("TotalEmailsSynced = %d, want 3", job.TotalEmailsSynced)
	}
}

func TestRunSyncJob_RefreshFailureMarksAccount(t *testing.T) {
	userID := uuid.New()
	provider := &fakeProvider{
		name:        domain.ProviderGmail,
		rejectFirst: true,
		refreshErr:  fmt.Errorf("invalid_grant"),
	}
	f := newEngineFixture(provider, testAccount(1, userID, "me@example.com"))

	job := startAndRun(t, f, userID)

	// The run completes; the account carries the error.
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("Status = %s, want COMPLETED", job.Status)
	}
	if got := f.accounts.statuses[1]; got != domain.AccountStatusError {
		t.Errorf("account status = %s, want ERROR", got)
	}
	if got := f.accounts.errors[1]; !strings.Contains(got, "re-authenticate") {
		t.Errorf("account error = %q, want re-authenticate hint", got)
	}
}

func TestCancelJob_OnlyRunningJobs(t *testing.T) {
	userID := uuid.New()
	f := newEngineFixture(&fakeProvider{name: domain.ProviderGmail}, testAccount(1, userID, "me@example.com"))
	ctx := context.Background()

	job, err := f.engine.StartSyncJob(ctx, userID, domain.JobTypeFullSync)
	if err != nil {
		t.Fatalf("StartSyncJob() error = %v", err)
	}

	// PENDING is not cancellable.
	if err := f.engine.CancelJob(ctx, job.ID, userID); !apperr.IsCode(err, apperr.CodeSyncNotActive) {
		t.Errorf("CancelJob(PENDING) error = %v, want code %s", err, apperr.CodeSyncNotActive)
	}

	f.jobs.jobs[job.ID].Status = domain.JobStatusRunning
	if err := f.engine.CancelJob(ctx, job.ID, userID); err != nil {
		t.Fatalf("CancelJob(RUNNING) error = %v", err)
	}

	final, _ := f.jobs.GetByID(ctx, job.ID)
	if final.Status != domain.JobStatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", final.Status)
	}
	if final.StatusMessage != "Cancelled by user" {
		t.Errorf("StatusMessage = %q", final.StatusMessage)
	}
}

func TestUpdateRate_ComputesThroughputAndETA(t *testing.T) {
	e := &Engine{}
	job := &domain.SyncJob{
		TotalEmailsSynced:    80,
		TotalEmailsSkipped:   20,
		EstimatedTotalEmails: 300,
	}

	e.updateRate(job, time.Now().Add(-2*time.Second), 100)

	if job.TotalEmailsProcessed != 100 {
		t.Fatalf("TotalEmailsProcessed = %d, want 100", job.TotalEmailsProcessed)
	}
	// ~100 messages over ~2s.
	if job.EmailsPerSecond < 40 || job.EmailsPerSecond > 60 {
		t.Errorf("EmailsPerSecond = %d, want ~50", job.EmailsPerSecond)
	}
	wantETA := job.RemainingEmails() / int(job.EmailsPerSecond)
	if job.EstimatedSecondsRemaining != wantETA {
		t.Errorf("EstimatedSecondsRemaining = %d, want %d", job.EstimatedSecondsRemaining, wantETA)
	}
}

func TestUpdateRate_IsPerAccount(t *testing.T) {
	e := &Engine{}
	// Job-wide counters carry 500 messages from an earlier account;
	// the current account has done 100 over ~2s. The rate must reflect
	// only the current account.
	job := &domain.SyncJob{
		TotalEmailsSynced:    550,
		TotalEmailsSkipped:   50,
		EstimatedTotalEmails: 1000,
	}

	e.updateRate(job, time.Now().Add(-2*time.Second), 100)

	if job.EmailsPerSecond < 40 || job.EmailsPerSecond > 60 {
		t.Errorf("EmailsPerSecond = %d, want ~50 from the current account only", job.EmailsPerSecond)
	}
}

func TestUpdateRate_NoElapsedTime(t *testing.T) {
	e := &Engine{}
	job := &domain.SyncJob{TotalEmailsSynced: 10}

	e.updateRate(job, time.Now(), 10)

	if job.EstimatedSecondsRemaining != 0 {
		t.Errorf("EstimatedSecondsRemaining = %d, want 0 with no rate", job.EstimatedSecondsRemaining)
	}
}

func TestCancelJob_LosesRaceWithCompletion(t *testing.T) {
	userID := uuid.New()
	f := newEngineFixture(&fakeProvider{name: domain.ProviderGmail}, testAccount(1, userID, "me@example.com"))
	ctx := context.Background()

	job, err := f.engine.StartSyncJob(ctx, userID, domain.JobTypeFullSync)
	if err != nil {
		t.Fatalf("StartSyncJob() error = %v", err)
	}

	// The worker finishes the job, but the cancel request still holds
	// a read taken while it was RUNNING.
	stored := f.jobs.jobs[job.ID]
	stored.Status = domain.JobStatusCompleted
	stored.StatusMessage = "Sync completed successfully"
	stale := *stored
	stale.Status = domain.JobStatusRunning
	f.jobs.staleView = &stale

	if err := f.engine.CancelJob(ctx, job.ID, userID); !apperr.IsCode(err, apperr.CodeSyncNotActive) {
		t.Errorf("CancelJob() error = %v, want code %s", err, apperr.CodeSyncNotActive)
	}

	f.jobs.staleView = nil
	final, _ := f.jobs.GetByID(ctx, job.ID)
	if final.Status != domain.JobStatusCompleted {
		t.Errorf("Status = %s, COMPLETED must not be overwritten by a late cancel", final.Status)
	}
}

func TestRunSyncJob_StopsOnRepeatedEmptyPages(t *testing.T) {
	userID := uuid.New()
	// A single empty page with a continuation token is a legitimate
	// mailbox handoff and must be walked through.
	handoff := &fakeProvider{
		name: domain.ProviderGmail,
		pages: []out.MailPage{
			messagesPage("inbox", 5, 0),
			{},
			messagesPage("archive", 5, 0),
		},
	}
	f := newEngineFixture(handoff, testAccount(1, userID, "me@example.com"))
	job := startAndRun(t, f, userID)
	if job.TotalEmailsSynced != 10 {
		t.Errorf("TotalEmailsSynced = %d, want 10 across the empty handoff", job.TotalEmailsSynced)
	}

	// A provider that keeps returning empty pages with tokens must not
	// be paged to the ceiling.
	stalling := &fakeProvider{
		name:  domain.ProviderGmail,
		pages: make([]out.MailPage, MaxPagesPerAccount),
	}
	f = newEngineFixture(stalling, testAccount(1, userID, "me@example.com"))
	startAndRun(t, f, userID)
	if stalling.fetchCalls > 2 {
		t.Errorf("fetchCalls = %d, want at most 2 for consecutive empty pages", stalling.fetchCalls)
	}
}
