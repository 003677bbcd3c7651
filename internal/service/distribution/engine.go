package distribution

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ignite/workshop-mailer/internal/domain"
	"github.com/ignite/workshop-mailer/internal/mail"
	"github.com/ignite/workshop-mailer/internal/pkg/distlock"
	"github.com/ignite/workshop-mailer/internal/pkg/logger"
	"github.com/ignite/workshop-mailer/internal/pkg/token"
	"github.com/ignite/workshop-mailer/internal/routing"
	"github.com/ignite/workshop-mailer/internal/service/users"
	"github.com/ignite/workshop-mailer/internal/service/workshops"
	"github.com/ignite/workshop-mailer/internal/storage"
)

const (
	defaultFanoutWorkers = 4
	defaultDedupTTL      = 72 * time.Hour
	defaultClaimTTL      = 2 * time.Minute
	defaultClaimWait     = 30 * time.Second
)

// Engine coordinates registration delivery and inbound fan-out.
type Engine struct {
	users     users.Repository
	workshops workshops.Repository
	gateway   mail.Gateway

	resolver *routing.Resolver
	archive  *storage.Inbound
	locks    distlock.Factory
	dedupTTL time.Duration

	// guards hold the per-recipient delivery claims. They default to
	// process-local locks and follow WithLocker when one is configured.
	guards    distlock.Factory
	claimTTL  time.Duration
	claimWait time.Duration

	workers int
	newID   token.Source
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithResolver sets the routing address parser used for inbound mail.
func WithResolver(r *routing.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithArchive stores every inbound message before it is appended.
func WithArchive(a *storage.Inbound) Option {
	return func(e *Engine) { e.archive = a }
}

// WithLocker enables the redelivery guard: an inbound Message-Id is fanned
// out at most once per ttl. The same backend then holds the per-recipient
// delivery claims, so they are shared between server instances.
func WithLocker(f distlock.Factory, ttl time.Duration) Option {
	return func(e *Engine) {
		e.locks = f
		if f != nil {
			e.guards = f
		}
		if ttl > 0 {
			e.dedupTTL = ttl
		}
	}
}

// WithFanoutWorkers bounds concurrent sends during inbound fan-out.
func WithFanoutWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithDeliveryClaim tunes the per-recipient delivery claim: ttl bounds how
// long a crashed holder blocks the address, wait how long a caller queues
// behind a live one.
func WithDeliveryClaim(ttl, wait time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.claimTTL = ttl
		}
		if wait > 0 {
			e.claimWait = wait
		}
	}
}

// WithIDSource overrides email id generation.
func WithIDSource(src token.Source) Option {
	return func(e *Engine) { e.newID = src }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an engine to its repositories and mail gateway.
func NewEngine(u users.Repository, w workshops.Repository, gw mail.Gateway, opts ...Option) *Engine {
	e := &Engine{
		users:     u,
		workshops: w,
		gateway:   gw,
		resolver:  routing.NewResolver(""),
		dedupTTL:  defaultDedupTTL,
		guards:    distlock.NewMemoryLocks().Factory(),
		claimTTL:  defaultClaimTTL,
		claimWait: defaultClaimWait,
		workers:   defaultFanoutWorkers,
		newID:     token.EmailID,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DeliveryReport summarises a registration.
type DeliveryReport struct {
	WorkshopID string `json:"workshopId"`
	Address    string `json:"user"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
}

// RegisterUser adds address to the workshop roster and sends every workshop
// email the user has not received yet, in workshop order.
//
// An address that never signed up fails with domain.ErrRegistrantNotFound
// and leaves the roster untouched. An unconfirmed user fails with
// domain.ErrUserNotConfirmed after the roster add, so the membership stays
// recorded while delivery is withheld.
//
// Computing, sending and recording the delta happen under a per-recipient
// claim shared with inbound fan-out, so concurrent registrations of the same
// user never send an email twice.
func (e *Engine) RegisterUser(ctx context.Context, workshopID, address string) (*DeliveryReport, error) {
	address = domain.NormalizeAddress(address)

	if _, err := e.users.FindByAddress(ctx, address); err != nil {
		if !errors.Is(err, domain.ErrUserNotFound) {
			return nil, fmt.Errorf("lookup user: %w", err)
		}
		// workshop absence outranks registrant absence
		if _, werr := e.workshops.FindByID(ctx, workshopID); werr != nil {
			return nil, werr
		}
		return nil, domain.ErrRegistrantNotFound
	}

	ws, err := e.workshops.AddUser(ctx, workshopID, address)
	if err != nil {
		return nil, err
	}

	// The unconfirmed check runs before the claim so a pending user never
	// waits behind another delivery.
	user, err := e.users.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrRegistrantNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	if !user.IsConfirmed {
		return nil, domain.ErrUserNotConfirmed
	}

	release, err := e.holdRecipient(ctx, ws.WorkshopID, address)
	if err != nil {
		return nil, err
	}
	defer release()

	// Re-read under the claim: a concurrent registration or fan-out may have
	// delivered part of the backlog while we waited.
	user, err = e.users.FindByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrRegistrantNotFound
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	pending := ws.Undelivered(user.DeliveredEmailIDs)
	report := &DeliveryReport{WorkshopID: ws.WorkshopID, Address: address}
	if len(pending) == 0 {
		return report, nil
	}

	sent := make([]string, 0, len(pending))
	for _, email := range pending {
		err := e.gateway.Send(ctx, mail.Message{
			To:      address,
			Subject: email.Subject,
			Text:    email.Body,
			Tags:    map[string]string{"workshop": ws.WorkshopID},
		})
		if err != nil {
			report.Failed++
			logger.Warn("[distribution] registration send failed",
				"workshop", ws.WorkshopID, "recipient", address, "error", err)
			continue
		}
		sent = append(sent, email.EmailID)
	}
	report.Sent = len(sent)

	if len(sent) > 0 {
		// The mail has left; record it even if the request was canceled.
		if err := e.users.RecordDelivery(context.WithoutCancel(ctx), address, sent); err != nil {
			return report, fmt.Errorf("record delivery: %w", err)
		}
	}

	logger.Info("[distribution] user registered",
		"workshop", ws.WorkshopID, "recipient", address, "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

// UnregisterUser removes address from the roster. The user's delivered set
// is untouched. Removing a non-member fails with domain.ErrNotRegistered.
func (e *Engine) UnregisterUser(ctx context.Context, workshopID, address string) error {
	address = domain.NormalizeAddress(address)
	changed, err := e.workshops.RemoveUser(ctx, workshopID, address)
	if err != nil {
		return err
	}
	if !changed {
		// RemoveUser cannot tell a missing workshop from a non-member.
		if _, err := e.workshops.FindByID(ctx, workshopID); err != nil {
			return err
		}
		return domain.ErrNotRegistered
	}
	logger.Info("[distribution] user unregistered", "workshop", workshopID, "recipient", address)
	return nil
}

// Draft is an email before it is assigned an id.
type Draft struct {
	Subject     string
	Body        string
	Attachments []domain.Attachment
}

// AddEmail appends a new email to the workshop without sending it. Members
// receive it the next time they register.
func (e *Engine) AddEmail(ctx context.Context, workshopID string, d Draft) (*domain.Email, error) {
	email := e.newEmail(d)
	if _, err := e.workshops.AppendEmail(ctx, workshopID, email); err != nil {
		return nil, err
	}
	logger.Info("[distribution] email added", "workshop", workshopID, "subject", email.Subject)
	return &email, nil
}

// ListEmails returns the workshop's emails in arrival order without ids.
func (e *Engine) ListEmails(ctx context.Context, workshopID string) ([]domain.EmailView, error) {
	ws, err := e.workshops.FindByID(ctx, workshopID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.EmailView, 0, len(ws.Emails))
	for _, email := range ws.Emails {
		out = append(out, email.View())
	}
	return out, nil
}

func (e *Engine) newEmail(d Draft) domain.Email {
	return domain.Email{
		EmailID:     e.newID(),
		Subject:     d.Subject,
		Body:        d.Body,
		ReceivedAt:  e.now().UTC(),
		Attachments: d.Attachments,
	}
}

// InboundAttachment is a file received with routed mail.
type InboundAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// InboundMessage is routed mail addressed to a workshop.
type InboundMessage struct {
	MessageID   string
	Recipient   string
	Sender      string
	Subject     string
	BodyPlain   string
	Fields      map[string][]string
	Attachments []InboundAttachment
}

// FanoutReport summarises an inbound delivery.
type FanoutReport struct {
	WorkshopID string `json:"-"`
	Recipients int    `json:"recipients"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Duplicate  bool   `json:"duplicate,omitempty"`
}

// AcceptInbound routes msg to the workshop owning the recipient's secret,
// appends it, and sends it to every confirmed member of the roster as it was
// right after the append. One member's send failure does not affect others.
func (e *Engine) AcceptInbound(ctx context.Context, msg InboundMessage) (*FanoutReport, error) {
	secret, err := e.resolver.Secret(msg.Recipient)
	if err != nil {
		return nil, err
	}
	ws, err := e.workshops.FindBySecret(ctx, secret)
	if err != nil {
		return nil, err
	}

	claim, dup := e.claim(ctx, ws.WorkshopID, msg.MessageID)
	if dup {
		logger.Info("[distribution] duplicate inbound ignored", "workshop", ws.WorkshopID, "message_id", msg.MessageID)
		return &FanoutReport{WorkshopID: ws.WorkshopID, Duplicate: true}, nil
	}

	email := e.newEmail(Draft{
		Subject:     msg.Subject,
		Body:        msg.BodyPlain,
		Attachments: e.archiveInbound(ctx, ws.WorkshopID, msg),
	})

	snap, err := e.workshops.AppendEmail(ctx, ws.WorkshopID, email)
	if err != nil {
		if claim != nil {
			if rerr := claim.Release(context.WithoutCancel(ctx)); rerr != nil {
				logger.Warn("[distribution] release inbound claim", "error", rerr)
			}
		}
		return nil, err
	}

	report := e.fanout(ctx, snap, email, msg.Attachments)
	logger.Info("[distribution] inbound delivered",
		"workshop", snap.WorkshopID,
		"recipients", report.Recipients,
		"sent", report.Sent,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, nil
}

// claim takes the redelivery guard for messageID. It reports dup when
// another delivery of the same message already holds it. Guard errors fail
// open so a lock backend outage never drops mail.
func (e *Engine) claim(ctx context.Context, workshopID, messageID string) (distlock.DistLock, bool) {
	messageID = strings.Trim(strings.TrimSpace(messageID), "<>")
	if e.locks == nil || messageID == "" {
		return nil, false
	}
	l := e.locks("inbound:"+workshopID+":"+messageID, e.dedupTTL)
	ok, err := l.Acquire(ctx)
	if err != nil {
		logger.Warn("[distribution] inbound dedup unavailable", "error", err)
		return nil, false
	}
	if !ok {
		return nil, true
	}
	return l, false
}

// holdRecipient serializes delivery to one address within a workshop so the
// delta computed from the delivered set stays valid until it is recorded.
// The returned func releases the claim. A lock backend error fails open;
// a claim still held elsewhere after the wait is domain.ErrDeliveryInProgress.
func (e *Engine) holdRecipient(ctx context.Context, workshopID, address string) (func(), error) {
	l := e.guards("deliver:"+workshopID+":"+address, e.claimTTL)
	ok, err := distlock.Wait(ctx, l, e.claimWait)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn("[distribution] recipient claim unavailable", "recipient", address, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, domain.ErrDeliveryInProgress
	}
	return func() {
		if err := l.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("[distribution] release recipient claim", "recipient", address, "error", err)
		}
	}, nil
}

func (e *Engine) archiveInbound(ctx context.Context, workshopID string, msg InboundMessage) []domain.Attachment {
	meta := make([]domain.Attachment, len(msg.Attachments))
	objs := make([]storage.Object, len(msg.Attachments))
	for i, a := range msg.Attachments {
		meta[i] = domain.Attachment{Filename: a.Filename, ContentType: a.ContentType, Size: int64(len(a.Content))}
		objs[i] = storage.Object{Filename: a.Filename, ContentType: a.ContentType, Body: a.Content}
	}
	if e.archive == nil {
		return meta
	}
	stored, err := e.archive.Save(ctx, workshopID, msg.Fields, objs)
	if err != nil {
		logger.Warn("[distribution] inbound archive failed", "workshop", workshopID, "error", err)
		return meta
	}
	for i := range meta {
		meta[i].ArchiveKey = stored.AttachmentKeys[i]
	}
	return meta
}

func (e *Engine) fanout(ctx context.Context, ws *domain.Workshop, email domain.Email, files []InboundAttachment) *FanoutReport {
	attachments := make([]mail.Attachment, len(files))
	for i, f := range files {
		attachments[i] = mail.Attachment{Filename: f.Filename, ContentType: f.ContentType, Content: f.Content}
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		report = &FanoutReport{WorkshopID: ws.WorkshopID, Recipients: len(ws.RegisteredUsers)}
		sem    = make(chan struct{}, e.workers)
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	for _, member := range ws.RegisteredUsers {
		wg.Add(1)
		sem <- struct{}{}
		go func(address string) {
			defer wg.Done()
			defer func() { <-sem }()

			release, err := e.holdRecipient(ctx, ws.WorkshopID, address)
			if err != nil {
				logger.Warn("[distribution] fan-out recipient busy",
					"workshop", ws.WorkshopID, "recipient", address, "error", err)
				count(&report.Failed)
				return
			}
			defer release()

			user, err := e.users.FindByAddress(ctx, address)
			if err != nil || !user.IsConfirmed {
				if err != nil && !errors.Is(err, domain.ErrUserNotFound) {
					logger.Warn("[distribution] member lookup failed", "recipient", address, "error", err)
				}
				count(&report.Skipped)
				return
			}
			// A registration running concurrently may already have sent it.
			if user.HasReceived(email.EmailID) {
				count(&report.Skipped)
				return
			}

			err = e.gateway.Send(ctx, mail.Message{
				To:          address,
				Subject:     email.Subject,
				Text:        email.Body,
				Attachments: attachments,
				Tags:        map[string]string{"workshop": ws.WorkshopID},
			})
			if err != nil {
				logger.Warn("[distribution] fan-out send failed",
					"workshop", ws.WorkshopID, "recipient", address, "error", err)
				count(&report.Failed)
				return
			}
			count(&report.Sent)

			if err := e.users.RecordDelivery(context.WithoutCancel(ctx), address, []string{email.EmailID}); err != nil {
				logger.Error("[distribution] record delivery failed",
					"workshop", ws.WorkshopID, "recipient", address, "error", err)
			}
		}(member)
	}
	wg.Wait()
	return report
}
