package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/harentsoaR/clinic-api/internal/booking"
	"github.com/harentsoaR/clinic-api/internal/events"
	"github.com/harentsoaR/clinic-api/internal/mail"
	"github.com/harentsoaR/clinic-api/internal/metrics"
	"github.com/harentsoaR/clinic-api/internal/middleware"
	"github.com/harentsoaR/clinic-api/internal/models"
	"github.com/harentsoaR/clinic-api/internal/services"
	"github.com/harentsoaR/clinic-api/internal/slots"
	"github.com/harentsoaR/clinic-api/internal/store"
	"github.com/harentsoaR/clinic-api/internal/utils"
	"github.com/harentsoaR/clinic-api/internal/verification"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUsers struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[string]*models.User)}
}

func (f *fakeUsers) add(u *models.User) *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID.IsZero() {
		u.ID = primitive.NewObjectID()
	}
	f.users[u.ID.Hex()] = u
	return u
}

func (f *fakeUsers) Create(ctx context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == user.Email {
			return store.ErrEmailTaken
		}
	}
	cp := *user
	f.users[user.ID.Hex()] = &cp
	return nil
}

func (f *fakeUsers) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) FindDoctor(ctx context.Context, id string) (*models.User, error) {
	u, err := f.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleDoctor {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) ListDoctors(ctx context.Context, specialty string) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.User, 0)
	for _, u := range f.users {
		if u.Role == models.RoleDoctor && (specialty == "" || u.Specialty == specialty) {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (f *fakeUsers) UpdateProfile(ctx context.Context, id, fullName, phone string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return models.ErrNotFound
	}
	if fullName != "" {
		u.FullName = fullName
	}
	if phone != "" {
		u.Phone = phone
	}
	return nil
}

// fakeAppointments enforces the same one-held-appointment-per-slot rule as the
// Mongo partial unique index.
type fakeAppointments struct {
	mu        sync.Mutex
	byID      map[string]*models.Appointment
	bookedErr error
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{byID: make(map[string]*models.Appointment)}
}

func (f *fakeAppointments) conflict(apt *models.Appointment) bool {
	if !apt.SlotHeld {
		return false
	}
	for id, other := range f.byID {
		if id != apt.ID.Hex() && other.SlotHeld && other.DoctorID == apt.DoctorID &&
			other.Date == apt.Date && other.Time == apt.Time {
			return true
		}
	}
	return false
}

func (f *fakeAppointments) CreateAppointment(ctx context.Context, apt *models.Appointment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if apt.ID.IsZero() {
		apt.ID = primitive.NewObjectID()
	}
	if f.conflict(apt) {
		return models.ErrSlotTaken
	}
	cp := *apt
	f.byID[apt.ID.Hex()] = &cp
	return nil
}

func (f *fakeAppointments) BookedTimes(ctx context.Context, doctorID, date string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bookedErr != nil {
		return nil, f.bookedErr
	}
	if _, err := primitive.ObjectIDFromHex(doctorID); err != nil {
		return nil, models.ErrNotFound
	}
	var out []string
	for _, apt := range f.byID {
		if apt.SlotHeld && apt.DoctorID.Hex() == doctorID && apt.Date == date {
			out = append(out, apt.Time)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakeAppointments) Find(ctx context.Context, filter store.AppointmentFilter) ([]models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Appointment, 0)
	for _, apt := range f.byID {
		switch {
		case !filter.PatientID.IsZero() && apt.PatientID != filter.PatientID:
		case !filter.DoctorID.IsZero() && apt.DoctorID != filter.DoctorID:
		case filter.Status != "" && apt.Status != filter.Status:
		case !filter.From.IsZero() && apt.StartTime.Before(filter.From):
		case !filter.To.IsZero() && !apt.StartTime.Before(filter.To):
		default:
			out = append(out, *apt)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if filter.NewestFirst {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out, nil
}

func (f *fakeAppointments) FindByID(ctx context.Context, id string) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apt, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *apt
	return &cp, nil
}

func (f *fakeAppointments) UpdateSchedule(ctx context.Context, id string, u store.ScheduleUpdate) (*models.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	apt, ok := f.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	next := *apt
	next.SetStatus(u.Status)
	if u.Date != "" {
		next.Date, next.Time, next.StartTime = u.Date, u.Time, u.StartTime
	}
	if f.conflict(&next) {
		return nil, models.ErrSlotTaken
	}
	next.UpdatedAt = time.Now().UTC()
	f.byID[id] = &next
	cp := next
	return &cp, nil
}

func (f *fakeAppointments) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byID[id]; !ok {
		return models.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

func (f *fakeAppointments) all() []models.Appointment {
	out, _ := f.Find(context.Background(), store.AppointmentFilter{})
	return out
}

type fakeContacts struct {
	mu       sync.Mutex
	messages []models.ContactMessage
}

func (f *fakeContacts) CreateContactMessage(ctx context.Context, msg *models.ContactMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *msg)
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// switchSender delegates to a StubSender unless failing is set.
type switchSender struct {
	*mail.StubSender
	failing atomic.Bool
}

func (s *switchSender) Send(ctx context.Context, msg mail.Message) error {
	if s.failing.Load() {
		return errors.New("smtp: connection refused")
	}
	return s.StubSender.Send(ctx, msg)
}

type testEnv struct {
	router       *gin.Engine
	users        *fakeUsers
	appointments *fakeAppointments
	contacts     *fakeContacts
	events       *recordingPublisher
	mailer       *switchSender
	notifier     *services.NotificationService
	tokens       *utils.JWTManager

	patient *models.User
	other   *models.User
	doctor  *models.User
	doctor2 *models.User
	admin   *models.User
}

const testPassword = "correct-horse"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	env := &testEnv{
		users:        newFakeUsers(),
		appointments: newFakeAppointments(),
		contacts:     &fakeContacts{},
		events:       &recordingPublisher{},
		mailer:       &switchSender{StubSender: mail.NewStubSender(nil)},
	}
	env.patient = env.users.add(&models.User{FullName: "Jane Patient", Email: "jane@example.com", Password: string(hash), Role: models.RolePatient})
	env.other = env.users.add(&models.User{FullName: "Other Patient", Email: "other@example.com", Password: string(hash), Role: models.RolePatient})
	env.doctor = env.users.add(&models.User{FullName: "Dr. Rakoto", Email: "rakoto@clinic.test", Password: string(hash), Role: models.RoleDoctor, Specialty: "Cardiology"})
	env.doctor2 = env.users.add(&models.User{FullName: "Dr. Andry", Email: "andry@clinic.test", Password: string(hash), Role: models.RoleDoctor, Specialty: "Dermatology"})
	env.admin = env.users.add(&models.User{FullName: "Admin", Email: "admin@clinic.test", Password: string(hash), Role: models.RoleAdmin})

	m := metrics.New(prometheus.NewRegistry())
	catalog, err := slots.NewCatalog(slots.Config{BaseHour: 8, DefaultCount: 8, ClosingTime: "18:00"})
	require.NoError(t, err)
	codes := verification.NewService(rdb, env.mailer, verification.Config{}, nil, m)
	wizard := booking.NewWizard(booking.Options{
		Catalog:   catalog,
		Booked:    env.appointments,
		Codes:     codes,
		Submitter: env.appointments,
		Metrics:   m,
	})
	sessions := store.NewRedisSessions(rdb, 30*time.Minute, nil)

	env.tokens, err = utils.NewJWTManager("test-secret", time.Hour)
	require.NoError(t, err)
	env.notifier = services.NewNotificationService(env.mailer, nil)

	h := NewHandler(Dependencies{
		Users:        env.users,
		Appointments: env.appointments,
		Contact:      env.contacts,
		Codes:        codes,
		Booking:      booking.NewService(wizard, sessions, env.users, nil),
		Catalog:      catalog,
		Tokens:       env.tokens,
		Notifier:     env.notifier,
		Events:       env.events,
		Metrics:      m,
		ClinicEmail:  "desk@clinic.test",
	})
	env.router = gin.New()
	h.Routes(env.router, middleware.AuthMiddleware(env.tokens))
	return env
}

func (e *testEnv) token(t *testing.T, u *models.User) string {
	t.Helper()
	tok, err := e.tokens.Generate(u.ID.Hex(), string(u.Role))
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, as *models.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(t, as))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// seed stores an appointment directly, bypassing the API.
func (e *testEnv) seed(t *testing.T, doctor, patient *models.User, date, clock string, status models.AppointmentStatus) *models.Appointment {
	t.Helper()
	start, err := time.Parse("2006-01-02 15:04", date+" "+clock)
	require.NoError(t, err)
	apt := &models.Appointment{
		DoctorID:    doctor.ID,
		DoctorName:  doctor.FullName,
		PatientID:   patient.ID,
		PatientName: patient.FullName,
		Date:        date,
		Time:        clock,
		StartTime:   start,
		Type:        models.InPerson,
	}
	apt.SetStatus(status)
	require.NoError(t, e.appointments.CreateAppointment(context.Background(), apt))
	return apt
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// lastCode returns the most recent verification code mailed to email.
func (e *testEnv) lastCode(t *testing.T, email string) string {
	t.Helper()
	sent := e.mailer.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].To == email && strings.Contains(sent[i].Subject, "verification code") {
			m := codePattern.FindStringSubmatch(sent[i].Body)
			require.NotNil(t, m, "no code in %q", sent[i].Body)
			return m[1]
		}
	}
	t.Fatalf("no verification code sent to %s", email)
	return ""
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func tomorrow() string {
	return time.Now().UTC().AddDate(0, 0, 1).Format("2006-01-02")
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}
