package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harentsoaR/clinic-api/internal/mail"
	"github.com/harentsoaR/clinic-api/internal/models"
)

func TestSendAppointmentConfirmation(t *testing.T) {
	stub := mail.NewStubSender(nil)
	svc := NewNotificationService(stub, nil)

	svc.SendAppointmentConfirmation(
		&models.User{FullName: "Jane", Email: "jane@example.com"},
		&models.Appointment{DoctorName: "Dr. Rakoto", Date: "2026-03-03", Time: "09:15", Type: models.InPerson},
	)
	svc.Wait()

	sent := stub.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "jane@example.com", sent[0].To)
	assert.Contains(t, sent[0].Body, "2026-03-03 at 09:15")
}

func TestSendStatusChange(t *testing.T) {
	stub := mail.NewStubSender(nil)
	svc := NewNotificationService(stub, nil)

	svc.SendStatusChange(
		&models.User{FullName: "Jane", Email: "jane@example.com"},
		&models.Appointment{DoctorName: "Dr. Rakoto", Status: models.StatusConfirmed},
	)
	svc.Wait()

	sent := stub.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "Appointment confirmed", sent[0].Subject)
}

func TestSkipsPatientWithoutEmail(t *testing.T) {
	stub := mail.NewStubSender(nil)
	svc := NewNotificationService(stub, nil)

	svc.SendAppointmentConfirmation(&models.User{FullName: "Jane"}, &models.Appointment{})
	svc.SendContactForward("", &models.ContactMessage{})
	svc.Wait()

	assert.Empty(t, stub.Sent())
}

func TestSendContactForward(t *testing.T) {
	stub := mail.NewStubSender(nil)
	svc := NewNotificationService(stub, nil)

	svc.SendContactForward("desk@clinic.test", &models.ContactMessage{
		Name: "Jane", Email: "jane@example.com", Subject: "Parking", Body: "Is there parking?",
	})
	svc.Wait()

	sent := stub.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "desk@clinic.test", sent[0].To)
	assert.Equal(t, "Contact form: Parking", sent[0].Subject)
	assert.Contains(t, sent[0].Body, "jane@example.com")
}
