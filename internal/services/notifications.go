package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harentsoaR/clinic-api/internal/mail"
	"github.com/harentsoaR/clinic-api/internal/models"
)

const sendTimeout = 30 * time.Second

// NotificationService emails patients about their appointments. Sends run in
// the background so they never hold up an API response.
type NotificationService struct {
	mailer mail.Sender
	logger *zap.Logger
	wg     sync.WaitGroup
}

func NewNotificationService(mailer mail.Sender, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{mailer: mailer, logger: logger}
}

// SendAppointmentConfirmation tells the patient their request was received.
func (s *NotificationService) SendAppointmentConfirmation(patient *models.User, apt *models.Appointment) {
	body := fmt.Sprintf(
		"Hello %s,\n\nYour %s appointment with %s on %s at %s has been received and is awaiting confirmation.",
		patient.FullName, apt.Type, apt.DoctorName, apt.Date, apt.Time,
	)
	s.send(patient, "Appointment request received", body)
}

// SendStatusChange tells the patient their appointment moved to a new status.
func (s *NotificationService) SendStatusChange(patient *models.User, apt *models.Appointment) {
	body := fmt.Sprintf(
		"Hello %s,\n\nYour appointment with %s is now %s. It is scheduled on %s at %s.",
		patient.FullName, apt.DoctorName, apt.Status, apt.Date, apt.Time,
	)
	s.send(patient, "Appointment "+string(apt.Status), body)
}

// SendContactForward relays a contact form message to the clinic mailbox.
func (s *NotificationService) SendContactForward(clinicEmail string, msg *models.ContactMessage) {
	if clinicEmail == "" {
		return
	}
	s.dispatch(mail.Message{
		To:      clinicEmail,
		Subject: "Contact form: " + msg.Subject,
		Body:    fmt.Sprintf("From: %s <%s>\n\n%s", msg.Name, msg.Email, msg.Body),
	})
}

// Wait blocks until every pending send has finished.
func (s *NotificationService) Wait() {
	s.wg.Wait()
}

func (s *NotificationService) send(patient *models.User, subject, body string) {
	if patient == nil || patient.Email == "" {
		s.logger.Debug("notification skipped: patient has no email")
		return
	}
	s.dispatch(mail.Message{To: patient.Email, ToName: patient.FullName, Subject: subject, Body: body})
}

func (s *NotificationService) dispatch(msg mail.Message) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := s.mailer.Send(ctx, msg); err != nil {
			s.logger.Warn("failed to send notification", zap.String("to", msg.To), zap.Error(err))
			return
		}
		s.logger.Info("notification sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	}()
}
