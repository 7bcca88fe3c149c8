package booking

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/harentsoaR/clinic-api/internal/models"
	"github.com/harentsoaR/clinic-api/internal/slots"
	"github.com/harentsoaR/clinic-api/internal/verification"
)

var testNow = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

type fakeBooked struct {
	mu    sync.Mutex
	times map[string][]string // doctorID|date -> times
	err   error
	calls int
}

func (f *fakeBooked) BookedTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.times[doctorID+"|"+date], nil
}

// blockingBooked waits for its context to end on the first call only.
type blockingBooked struct {
	started chan struct{}
	once    sync.Once
	times   []string
}

func (b *blockingBooked) BookedTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.started)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.times, nil
}

type fakeCodes struct {
	mu       sync.Mutex
	code     string
	issued   map[string]string
	revoked  []string
	issueErr error
}

func newFakeCodes(code string) *fakeCodes {
	return &fakeCodes{code: code, issued: make(map[string]string)}
}

func (f *fakeCodes) Issue(ctx context.Context, subject, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return f.issueErr
	}
	f.issued[subject] = f.code
	return nil
}

func (f *fakeCodes) Verify(ctx context.Context, subject, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	want, ok := f.issued[subject]
	if !ok {
		return verification.ErrNoCode
	}
	if want != code {
		return verification.ErrCodeMismatch
	}
	delete(f.issued, subject)
	return nil
}

func (f *fakeCodes) Revoke(ctx context.Context, subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.issued, subject)
	f.revoked = append(f.revoked, subject)
	return nil
}

type fakeSubmitter struct {
	mu      sync.Mutex
	err     error
	created []*models.Appointment
}

func (f *fakeSubmitter) CreateAppointment(ctx context.Context, apt *models.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, apt)
	return nil
}

type fakeDoctors map[string]*models.User

func (f fakeDoctors) FindDoctor(ctx context.Context, id string) (*models.User, error) {
	if d, ok := f[id]; ok {
		return d, nil
	}
	return nil, models.ErrNotFound
}

// memSessions round-trips through JSON so tests see what a real store keeps.
type memSessions struct {
	mu    sync.Mutex
	data  map[string][]byte
	locks map[string]bool
}

func newMemSessions() *memSessions {
	return &memSessions{data: make(map[string][]byte), locks: make(map[string]bool)}
}

func (m *memSessions) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *memSessions) Save(ctx context.Context, s *Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[s.ID] = raw
	return nil
}

func (m *memSessions) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *memSessions) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return nil, ErrInProgress
	}
	m.locks[key] = true
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.locks, key)
	}, nil
}

type fixture struct {
	wizard    *Wizard
	booked    *fakeBooked
	codes     *fakeCodes
	submitter *fakeSubmitter
	doctor    Doctor
	patientID string
}

func newFixture(t *testing.T, policy LookupPolicy) *fixture {
	t.Helper()
	catalog, err := slots.NewCatalog(slots.Config{BaseHour: 8, DefaultCount: 8, ClosingTime: "18:00"})
	require.NoError(t, err)

	f := &fixture{
		booked:    &fakeBooked{times: map[string][]string{}},
		codes:     newFakeCodes("123456"),
		submitter: &fakeSubmitter{},
		doctor:    Doctor{ID: primitive.NewObjectID().Hex(), Name: "Dr. Rakoto", Specialty: "Cardiology"},
		patientID: primitive.NewObjectID().Hex(),
	}
	f.wizard = NewWizard(Options{
		Catalog:   catalog,
		Booked:    f.booked,
		Codes:     f.codes,
		Submitter: f.submitter,
		Policy:    policy,
		Now:       func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) start() *Session {
	return f.wizard.Start("sess-1", f.patientID, "Jane Patient", f.doctor)
}

// toConfirmation drives a fresh session through every step.
func (f *fixture) toConfirmation(t *testing.T) *Session {
	t.Helper()
	ctx := context.Background()
	s := f.start()
	require.NoError(t, f.wizard.SelectSlot(ctx, s, SlotChoice{Date: "2026-03-03", Time: "08:00", Type: models.InPerson}))
	require.NoError(t, f.wizard.SubmitContact(ctx, s, "a@b.com", true))
	require.NoError(t, f.wizard.EnterCode(ctx, s, "123456"))
	require.Equal(t, StepConfirmation, s.Step)
	return s
}
