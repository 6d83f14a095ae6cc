package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/lessonplan-mailer/pkg/apiresponses"
	"github.com/telekom/lessonplan-mailer/pkg/mail"
	"github.com/telekom/lessonplan-mailer/pkg/system"
)

// ActorHeader names the operator on administrative requests for the audit
// trail. The client IP is used when it is missing.
const ActorHeader = "X-Mailer-Actor"

// MailService is the part of mail.Service the HTTP layer needs.
type MailService interface {
	Enqueue(ctx context.Context, msg *mail.EmailMessage) error
	Trigger(force bool)
	Drain(ctx context.Context, force bool) error
	Status() (mail.Status, error)
	Snapshot() mail.QueueSnapshot
	Quarantined() ([]*mail.EmailMessage, error)
	QuarantinedMessage(id string) (*mail.EmailMessage, error)
	RestoreQuarantined(ctx context.Context, id, actor string) (*mail.EmailMessage, error)
	Purge(ctx context.Context, actor string) (int, error)
}

// SendRequest is the body of POST /api/mail.
type SendRequest struct {
	Subject     string              `json:"subject" binding:"required"`
	Body        string              `json:"body"`
	Recipients  []string            `json:"recipients" binding:"required,min=1,dive,required"`
	Priority    bool                `json:"priority"`
	HTML        bool                `json:"html"`
	Attachments []AttachmentRequest `json:"attachments" binding:"omitempty,dive"`
}

// AttachmentRequest carries base64 encoded file content.
type AttachmentRequest struct {
	FileName    string `json:"fileName" binding:"required"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"content"`
}

type SendResponse struct {
	ID       string `json:"id"`
	Priority bool   `json:"priority"`
}

type DrainResponse struct {
	Forced bool        `json:"forced"`
	Waited bool        `json:"waited"`
	Status mail.Status `json:"status"`
}

type PurgeResponse struct {
	Purged int `json:"purged"`
}

// QuarantineEntry summarizes a quarantined message without its body and
// attachments.
type QuarantineEntry struct {
	ID          string     `json:"id" yaml:"id"`
	Subject     string     `json:"subject" yaml:"subject"`
	Recipients  []string   `json:"recipients" yaml:"recipients"`
	Priority    bool       `json:"priority" yaml:"priority"`
	Created     time.Time  `json:"created" yaml:"created"`
	RetryCount  int        `json:"retryCount" yaml:"retryCount"`
	LastError   string     `json:"lastError" yaml:"lastError"`
	LastAttempt *time.Time `json:"lastAttempt,omitempty" yaml:"lastAttempt,omitempty"`
}

type MailController struct {
	service     MailService
	log         *zap.SugaredLogger
	middlewares []gin.HandlerFunc
	enqueueMW   []gin.HandlerFunc
}

// NewMailController serves the mail endpoints under /api/mail. enqueueMW is
// applied to message submission only, typically the per-IP rate limiter.
func NewMailController(log *zap.SugaredLogger, service MailService, enqueueMW ...gin.HandlerFunc) *MailController {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MailController{
		service:   service,
		log:       log.Named("mail-api"),
		enqueueMW: enqueueMW,
	}
}

func (mc *MailController) BasePath() string { return "mail" }

func (mc *MailController) Handlers() []gin.HandlerFunc { return mc.middlewares }

func (mc *MailController) Register(rg *gin.RouterGroup) error {
	rg.POST("", append(append([]gin.HandlerFunc{}, mc.enqueueMW...), mc.handleSend)...)
	rg.POST("drain", mc.handleDrain)
	rg.GET("status", mc.handleStatus)
	rg.GET("queue", mc.handleQueue)
	rg.DELETE("queue", mc.handlePurge)
	rg.GET("quarantine", mc.handleListQuarantine)
	rg.GET("quarantine/:id", mc.handleGetQuarantined)
	rg.POST("quarantine/:id/restore", mc.handleRestore)
	return nil
}

func (mc *MailController) handleSend(c *gin.Context) {
	log := system.GetReqLogger(c, mc.log)

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiresponses.RespondBadRequestWithDetails(c, "invalid email request", err.Error())
		return
	}

	msg := mail.NewEmailMessage(req.Subject, req.Body, req.Recipients...)
	msg.Priority = req.Priority
	msg.HTMLContent = req.HTML
	for _, a := range req.Attachments {
		msg.Attach(mail.NewAttachment(a.FileName, a.ContentType, a.Content))
	}

	if err := mc.service.Enqueue(c.Request.Context(), msg); err != nil {
		if errors.Is(err, mail.ErrInvalidMessage) || errors.Is(err, mail.ErrNilMessage) {
			apiresponses.RespondBadRequestWithDetails(c, "invalid email", err.Error())
			return
		}
		apiresponses.RespondInternalError(c, "queue email", err, log)
		return
	}

	log.Infow("Email accepted", system.MessageFields(msg.ID, msg.Subject)...)
	apiresponses.RespondAccepted(c, SendResponse{ID: msg.ID, Priority: msg.Priority})
}

func (mc *MailController) handleDrain(c *gin.Context) {
	log := system.GetReqLogger(c, mc.log)
	force := queryBool(c, "force")
	wait := queryBool(c, "wait")

	if !wait {
		mc.service.Trigger(force)
		status, err := mc.service.Status()
		if err != nil {
			apiresponses.RespondInternalError(c, "read mail status", err, log)
			return
		}
		apiresponses.RespondAccepted(c, DrainResponse{Forced: force, Status: status})
		return
	}

	err := mc.service.Drain(c.Request.Context(), force)
	switch {
	case errors.Is(err, mail.ErrSenderPaused):
		apiresponses.RespondConflict(c, err.Error())
		return
	case errors.Is(err, mail.ErrConnectionFailed):
		apiresponses.RespondServiceUnavailable(c, "mail transport", err.Error())
		return
	case err != nil:
		apiresponses.RespondInternalError(c, "drain mail queue", err, log)
		return
	}

	status, err := mc.service.Status()
	if err != nil {
		apiresponses.RespondInternalError(c, "read mail status", err, log)
		return
	}
	log.Infow("Drain cycle requested over API finished", "forced", force, "queued", status.Queued)
	apiresponses.RespondOK(c, DrainResponse{Forced: force, Waited: true, Status: status})
}

func (mc *MailController) handleStatus(c *gin.Context) {
	status, err := mc.service.Status()
	if err != nil {
		apiresponses.RespondInternalError(c, "read mail status", err, system.GetReqLogger(c, mc.log))
		return
	}
	apiresponses.RespondOK(c, status)
}

func (mc *MailController) handleQueue(c *gin.Context) {
	apiresponses.RespondOK(c, mc.service.Snapshot())
}

func (mc *MailController) handlePurge(c *gin.Context) {
	log := system.GetReqLogger(c, mc.log)
	n, err := mc.service.Purge(c.Request.Context(), actorOf(c))
	if err != nil {
		apiresponses.RespondInternalError(c, "purge mail queue", err, log)
		return
	}
	apiresponses.RespondOK(c, PurgeResponse{Purged: n})
}

func (mc *MailController) handleListQuarantine(c *gin.Context) {
	msgs, err := mc.service.Quarantined()
	if err != nil {
		apiresponses.RespondInternalError(c, "list quarantined emails", err, system.GetReqLogger(c, mc.log))
		return
	}
	out := make([]QuarantineEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, QuarantineEntry{
			ID:          m.ID,
			Subject:     m.Subject,
			Recipients:  m.Recipients,
			Priority:    m.Priority,
			Created:     m.Created,
			RetryCount:  m.RetryCount,
			LastError:   m.LastError,
			LastAttempt: m.LastAttempt,
		})
	}
	apiresponses.RespondOK(c, out)
}

func (mc *MailController) handleGetQuarantined(c *gin.Context) {
	id := c.Param("id")
	msg, err := mc.service.QuarantinedMessage(id)
	if mc.respondLookupError(c, "read quarantined email", id, err) {
		return
	}
	apiresponses.RespondOK(c, msg)
}

func (mc *MailController) handleRestore(c *gin.Context) {
	log := system.GetReqLogger(c, mc.log)
	id := c.Param("id")
	msg, err := mc.service.RestoreQuarantined(c.Request.Context(), id, actorOf(c))
	if mc.respondLookupError(c, "restore quarantined email", id, err) {
		return
	}
	log.Infow("Quarantined email restored over API", system.MessageFields(msg.ID, msg.Subject)...)
	apiresponses.RespondOK(c, msg)
}

// respondLookupError writes the error response for an id based lookup and
// reports whether one was written.
func (mc *MailController) respondLookupError(c *gin.Context, op, id string, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, mail.ErrInvalidID):
		apiresponses.RespondBadRequestWithDetails(c, "invalid message id", err.Error())
	case errors.Is(err, mail.ErrMessageNotFound):
		apiresponses.RespondNotFound(c, "quarantined email", id)
	default:
		apiresponses.RespondInternalError(c, op, err, system.GetReqLogger(c, mc.log))
	}
	return true
}

func actorOf(c *gin.Context) string {
	if a := c.GetHeader(ActorHeader); a != "" {
		return a
	}
	return "api:" + c.ClientIP()
}

func queryBool(c *gin.Context, key string) bool {
	v, err := strconv.ParseBool(c.Query(key))
	return err == nil && v
}
