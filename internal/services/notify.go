package services

import (
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kim130727/eapproval/internal/config"
	"github.com/kim130727/eapproval/internal/db/models"
	"github.com/kim130727/eapproval/pkg/metrics"
)

// Notifier is the fire-and-forget notification contract consumed by the
// workflow. Implementations must swallow every failure: a lost mail never
// rolls back or delays a transition.
type Notifier interface {
	NotifySubmit(doc *models.Document, recipients []*models.User)
	NotifyStepAdvance(doc *models.Document, actor, next *models.User)
	NotifyCompleted(doc *models.Document, recipient *models.User)
	NotifyRejected(doc *models.Document, recipient *models.User, reason string)
}

// NopNotifier discards everything.
type NopNotifier struct{}

func (NopNotifier) NotifySubmit(*models.Document, []*models.User)                  {}
func (NopNotifier) NotifyStepAdvance(*models.Document, *models.User, *models.User) {}
func (NopNotifier) NotifyCompleted(*models.Document, *models.User)                 {}
func (NopNotifier) NotifyRejected(*models.Document, *models.User, string)          {}

type mailMessage struct {
	to      []string
	subject string
	body    string
}

// MailNotifier queues messages onto a channel consumed by a single worker
// goroutine, decoupling SMTP latency from the request path. A full queue
// drops the message.
type MailNotifier struct {
	cfg     config.NotifyConfig
	baseURL string
	logger  *zap.Logger
	metrics *metrics.MetricsCollector

	queue chan mailMessage
	wg    sync.WaitGroup

	// send is swapped out in tests.
	send func(msg mailMessage) error
}

func NewMailNotifier(cfg config.NotifyConfig, baseURL string, logger *zap.Logger, collector *metrics.MetricsCollector) *MailNotifier {
	n := &MailNotifier{
		cfg:     cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With(zap.String("service", "mail_notifier")),
		metrics: collector,
		queue:   make(chan mailMessage, cfg.QueueSize),
	}
	n.send = n.sendSMTP

	n.wg.Add(1)
	go n.worker()
	return n
}

// Close drains the queue and stops the worker.
func (n *MailNotifier) Close() {
	close(n.queue)
	n.wg.Wait()
}

func (n *MailNotifier) worker() {
	defer n.wg.Done()
	for msg := range n.queue {
		if err := n.send(msg); err != nil {
			n.metrics.IncrementCounter(metrics.CounterNotificationsFailed, nil)
			n.logger.Warn("notification delivery failed",
				zap.Strings("to", msg.to),
				zap.String("subject", msg.subject),
				zap.Error(err))
		}
	}
}

func (n *MailNotifier) sendSMTP(msg mailMessage) error {
	if !n.cfg.Enabled {
		return nil
	}
	addr := n.cfg.SMTPHost + ":" + n.cfg.SMTPPort
	data := []byte("From: " + n.cfg.FromAddr + "\r\n" +
		"To: " + strings.Join(msg.to, ", ") + "\r\n" +
		"Subject: " + msg.subject + "\r\n" +
		"\r\n" +
		msg.body + "\r\n")
	return smtp.SendMail(addr, nil, n.cfg.FromAddr, msg.to, data)
}

func (n *MailNotifier) enqueue(recipients []*models.User, subject, body string) {
	to := dedupeEmails(recipients)
	if len(to) == 0 {
		return
	}
	select {
	case n.queue <- mailMessage{to: to, subject: subject, body: body}:
	default:
		n.metrics.IncrementCounter(metrics.CounterNotificationsFailed, nil)
		n.logger.Warn("notification queue full, dropping message", zap.String("subject", subject))
	}
}

func (n *MailNotifier) docURL(doc *models.Document) string {
	return n.baseURL + "/documents/" + doc.ID
}

func (n *MailNotifier) NotifySubmit(doc *models.Document, recipients []*models.User) {
	n.enqueue(recipients,
		fmt.Sprintf("[Approval] Submitted: %s", doc.Title),
		fmt.Sprintf("A document is waiting for your review.\n\nView document:\n%s", n.docURL(doc)))
}

func (n *MailNotifier) NotifyStepAdvance(doc *models.Document, actor, next *models.User) {
	n.enqueue([]*models.User{next},
		fmt.Sprintf("[Approval] Your turn: %s", doc.Title),
		fmt.Sprintf("The previous step was approved by %s. The document is now waiting for you.\n\nView document:\n%s",
			actor.Username, n.docURL(doc)))
}

func (n *MailNotifier) NotifyCompleted(doc *models.Document, recipient *models.User) {
	n.enqueue([]*models.User{recipient},
		fmt.Sprintf("[Approval] Completed: %s", doc.Title),
		fmt.Sprintf("All review steps are complete.\n\nView document:\n%s", n.docURL(doc)))
}

func (n *MailNotifier) NotifyRejected(doc *models.Document, recipient *models.User, reason string) {
	n.enqueue([]*models.User{recipient},
		fmt.Sprintf("[Approval] Rejected: %s", doc.Title),
		fmt.Sprintf("The document was rejected.\n\nReason: %s\n\nView document:\n%s", reason, n.docURL(doc)))
}

// dedupeEmails drops recipients without an address and collapses duplicates.
func dedupeEmails(recipients []*models.User) []string {
	seen := make(map[string]bool, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r == nil {
			continue
		}
		email := strings.TrimSpace(r.Email)
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		out = append(out, email)
	}
	return out
}
