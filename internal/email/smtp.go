package email

import (
	"fmt"
	"net/smtp"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/intermernet/runtracker/internal/database"
	"github.com/intermernet/runtracker/internal/logging"
	"github.com/intermernet/runtracker/internal/metrics"
)

// SMTPServerConfig holds all the necessary configuration for connecting to an SMTP server.
type SMTPServerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Sender   string // The "From" email address
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailService sends challenge notifications. Sends go through a circuit
// breaker so a dead mail server fails fast instead of stalling requests.
type EmailService struct {
	config  SMTPServerConfig
	auth    smtp.Auth
	send    sendFunc
	breaker *gobreaker.CircuitBreaker[struct{}]
}

const breakerName = "smtp"

// NewEmailService creates a new service for sending emails.
func NewEmailService(config SMTPServerConfig) *EmailService {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &EmailService{
		config:  config,
		auth:    auth,
		send:    smtp.SendMail,
		breaker: newBreaker(),
	}
}

func newBreaker() *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
}

// NotifyChallenges e-mails an athlete the challenges they just earned.
func (s *EmailService) NotifyChallenges(athlete *database.User, challenges []string) error {
	if len(challenges) == 0 {
		return nil
	}

	name := strings.TrimSpace(athlete.FirstName + " " + athlete.LastName)
	if name == "" {
		name = athlete.Username
	}

	subject := "You earned a new challenge!"
	if len(challenges) > 1 {
		subject = fmt.Sprintf("You earned %d new challenges!", len(challenges))
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Hi %s,\n\nCongratulations, you just completed:\n\n", name)
	for _, c := range challenges {
		fmt.Fprintf(&body, "  * %s\n", c)
	}
	body.WriteString("\nKeep running!\nThe RunTracker Team")

	return s.sendMail(athlete.Email, subject, body.String())
}

func (s *EmailService) sendMail(recipient, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	message := []byte(
		"To: " + recipient + "\r\n" +
			"From: " + s.config.Sender + "\r\n" +
			"Subject: " + subject + "\r\n" +
			"\r\n" +
			body + "\r\n")

	_, err := s.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, s.send(addr, s.auth, s.config.Sender, []string{recipient}, message)
	})
	if err != nil {
		return fmt.Errorf("smtp error: %w", err)
	}
	return nil
}
