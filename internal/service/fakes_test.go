package service

import (
	"context"
	"time"

	"dealflow/internal/classifier"
	"dealflow/internal/model"
	"dealflow/internal/ratelimit"
	"dealflow/internal/repository"
	"dealflow/pkg/logger"

	"gorm.io/gorm"
)

func init() {
	logger.InitLogger("test")
}

// fakeQueueRepo partially implements repository.QueueInterface; tests set
// only the Fn fields they exercise and record the calls they assert on.
type fakeQueueRepo struct {
	GetByIDFn    func(ctx context.Context, id int64) (*model.QueueEntry, error)
	ClaimFn      func(ctx context.Context, id int64) error
	FetchReadyFn func(ctx context.Context, queue string, now time.Time, limit int) ([]model.QueueEntry, error)

	sent        []int64
	failed      []failCall
	retries     []retryCall
	reschedules []rescheduleCall
	releases    []releaseCall
	reclaims    []time.Time
}

type failCall struct {
	id        int64
	attempts  int
	lastError string
}

type retryCall struct {
	id        int64
	attempts  int
	lastError string
	at        time.Time
}

type rescheduleCall struct {
	id int64
	at time.Time
}

type releaseCall struct {
	id        int64
	lastError string
	at        time.Time
}

func (f *fakeQueueRepo) Create(ctx context.Context, entry *model.QueueEntry) error { return nil }

func (f *fakeQueueRepo) GetByID(ctx context.Context, id int64) (*model.QueueEntry, error) {
	return f.GetByIDFn(ctx, id)
}

func (f *fakeQueueRepo) FetchReady(ctx context.Context, queue string, now time.Time, limit int) ([]model.QueueEntry, error) {
	if f.FetchReadyFn != nil {
		return f.FetchReadyFn(ctx, queue, now, limit)
	}
	return nil, nil
}

func (f *fakeQueueRepo) Claim(ctx context.Context, id int64) error {
	if f.ClaimFn != nil {
		return f.ClaimFn(ctx, id)
	}
	return nil
}

func (f *fakeQueueRepo) MarkSent(ctx context.Context, id int64, at time.Time) error {
	f.sent = append(f.sent, id)
	return nil
}

func (f *fakeQueueRepo) MarkFailed(ctx context.Context, id int64, attempts int, lastError string) error {
	f.failed = append(f.failed, failCall{id, attempts, lastError})
	return nil
}

func (f *fakeQueueRepo) Reschedule(ctx context.Context, id int64, at time.Time) error {
	f.reschedules = append(f.reschedules, rescheduleCall{id, at})
	return nil
}

func (f *fakeQueueRepo) RetryLater(ctx context.Context, id int64, attempts int, lastError string, at time.Time) error {
	f.retries = append(f.retries, retryCall{id, attempts, lastError, at})
	return nil
}

func (f *fakeQueueRepo) Release(ctx context.Context, id int64, lastError string, at time.Time) error {
	f.releases = append(f.releases, releaseCall{id, lastError, at})
	return nil
}

func (f *fakeQueueRepo) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	f.reclaims = append(f.reclaims, before)
	return 0, nil
}

func (f *fakeQueueRepo) Retry(ctx context.Context, id int64) error  { return nil }
func (f *fakeQueueRepo) Cancel(ctx context.Context, id int64) error { return nil }

func (f *fakeQueueRepo) List(ctx context.Context, status string, limit int) ([]model.QueueEntry, error) {
	return nil, nil
}

func (f *fakeQueueRepo) CountByStatus(ctx context.Context, queue string) (map[string]int64, error) {
	return nil, nil
}

func (f *fakeQueueRepo) WithTx(tx *gorm.DB) repository.QueueInterface { return f }

type fakeCampaignRepo struct {
	GetByIDFn func(ctx context.Context, id int64) (*model.Campaign, error)
}

func (f *fakeCampaignRepo) GetByID(ctx context.Context, id int64) (*model.Campaign, error) {
	return f.GetByIDFn(ctx, id)
}

type fakeLimiter struct {
	CheckFn   func(ctx context.Context, group string, limits ratelimit.Limits) ratelimit.Status
	ReserveFn func(ctx context.Context, group string, limits ratelimit.Limits) (ratelimit.Status, error)
	RecordFn  func(ctx context.Context, group string) (int64, int64, error)

	recorded   []string
	unreserved []string
}

func (f *fakeLimiter) Check(ctx context.Context, group string, limits ratelimit.Limits) ratelimit.Status {
	if f.CheckFn != nil {
		return f.CheckFn(ctx, group, limits)
	}
	return ratelimit.Status{CanSend: true}
}

func (f *fakeLimiter) Reserve(ctx context.Context, group string, limits ratelimit.Limits) (ratelimit.Status, error) {
	if f.ReserveFn != nil {
		return f.ReserveFn(ctx, group, limits)
	}
	return ratelimit.Status{CanSend: true}, nil
}

func (f *fakeLimiter) Unreserve(ctx context.Context, group string) {
	f.unreserved = append(f.unreserved, group)
}

func (f *fakeLimiter) Record(ctx context.Context, group string) (int64, int64, error) {
	f.recorded = append(f.recorded, group)
	if f.RecordFn != nil {
		return f.RecordFn(ctx, group)
	}
	return 1, 1, nil
}

type fakeDeliverer struct {
	DeliverFn func(ctx context.Context, to, toName, subject, htmlBody, textBody string) error

	delivered []string
}

func (f *fakeDeliverer) Deliver(ctx context.Context, to, toName, subject, htmlBody, textBody string) error {
	f.delivered = append(f.delivered, to)
	if f.DeliverFn != nil {
		return f.DeliverFn(ctx, to, toName, subject, htmlBody, textBody)
	}
	return nil
}

// fakeObserver records deferral reasons and classification outcomes.
type fakeObserver struct {
	emailsSent      int
	deferredReasons []string
	outcomes        []string
}

func (f *fakeObserver) JobProcessed(queue string, elapsed time.Duration) {}
func (f *fakeObserver) JobFailed(queue string)                           {}
func (f *fakeObserver) EmailSent()                                       { f.emailsSent++ }
func (f *fakeObserver) DispatchDeferred(reason string) {
	f.deferredReasons = append(f.deferredReasons, reason)
}
func (f *fakeObserver) ClassificationResult(outcome string) {
	f.outcomes = append(f.outcomes, outcome)
}
func (f *fakeObserver) SetQueueDepth(status string, n float64) {}

type fakeMessageRepo struct {
	GetByIDFn           func(ctx context.Context, id int64) (*model.InboundMessage, error)
	FetchUnclassifiedFn func(ctx context.Context, limit int) ([]model.InboundMessage, error)

	classifications []classifyCall
	skips           []reasonCall
	flags           []reasonCall
	created         []*model.InboundMessage
}

type classifyCall struct {
	id int64
	c  repository.Classification
}

type reasonCall struct {
	id     int64
	reason string
}

func (f *fakeMessageRepo) Create(ctx context.Context, msg *model.InboundMessage) error {
	f.created = append(f.created, msg)
	return nil
}

func (f *fakeMessageRepo) GetByID(ctx context.Context, id int64) (*model.InboundMessage, error) {
	return f.GetByIDFn(ctx, id)
}

func (f *fakeMessageRepo) FetchUnclassified(ctx context.Context, limit int) ([]model.InboundMessage, error) {
	if f.FetchUnclassifiedFn != nil {
		return f.FetchUnclassifiedFn(ctx, limit)
	}
	return nil, nil
}

func (f *fakeMessageRepo) SetClassification(ctx context.Context, id int64, c repository.Classification) error {
	f.classifications = append(f.classifications, classifyCall{id, c})
	return nil
}

func (f *fakeMessageRepo) MarkSkipped(ctx context.Context, id int64, reason string) error {
	f.skips = append(f.skips, reasonCall{id, reason})
	return nil
}

func (f *fakeMessageRepo) FlagForReview(ctx context.Context, id int64, reason string) error {
	f.flags = append(f.flags, reasonCall{id, reason})
	return nil
}

func (f *fakeMessageRepo) List(ctx context.Context, needsReview bool, limit int) ([]model.InboundMessage, error) {
	return nil, nil
}

func (f *fakeMessageRepo) WithTx(tx *gorm.DB) repository.MessageInterface { return f }

type fakeContactRepo struct {
	GetByIDFn     func(ctx context.Context, id int64) (*model.Contact, error)
	FindByEmailFn func(ctx context.Context, email string) (*model.Contact, error)
}

func (f *fakeContactRepo) GetByID(ctx context.Context, id int64) (*model.Contact, error) {
	if f.GetByIDFn != nil {
		return f.GetByIDFn(ctx, id)
	}
	return &model.Contact{ID: id}, nil
}

func (f *fakeContactRepo) FindByEmail(ctx context.Context, email string) (*model.Contact, error) {
	if f.FindByEmailFn != nil {
		return f.FindByEmailFn(ctx, email)
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeCompanyRepo struct {
	updates []companyUpdate
}

type companyUpdate struct {
	id     int64
	status string
}

func (f *fakeCompanyRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	f.updates = append(f.updates, companyUpdate{id, status})
	return nil
}

type fakeClassifier struct {
	ClassifyFn func(ctx context.Context, sender, subject, body string) (*classifier.Result, error)

	calls int
}

func (f *fakeClassifier) Classify(ctx context.Context, sender, subject, body string) (*classifier.Result, error) {
	f.calls++
	return f.ClassifyFn(ctx, sender, subject, body)
}

type fakeSettingsRepo struct {
	GetNamespaceFn func(ctx context.Context, prefix string) ([]model.Setting, error)
}

func (f *fakeSettingsRepo) GetNamespace(ctx context.Context, prefix string) ([]model.Setting, error) {
	return f.GetNamespaceFn(ctx, prefix)
}

func (f *fakeSettingsRepo) Put(ctx context.Context, key, value string) error { return nil }

// settingsWith returns a store whose snapshot is fixed for the test.
func settingsWith(snap Snapshot) *SettingsStore {
	s := NewSettingsStore(nil)
	s.snap = snap
	return s
}

// sendingEnabled is a snapshot with every channel on and generous limits.
func sendingEnabled() Snapshot {
	snap := defaultSnapshot()
	snap.CampaignSendEnabled = true
	snap.ManualSendEnabled = true
	snap.SystemSendEnabled = true
	return snap
}
