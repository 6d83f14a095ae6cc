package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"github.com/Masterminds/sprig/v3"
)

const defaultAppName = "Lesson Planner"

type RegistrationMailParams struct {
	AppName    string
	Lang       string
	FullName   string
	Email      string
	ConfirmURL string
	ExpiresIn  string // human readable, e.g. "24 hours"
}

type PasswordResetMailParams struct {
	AppName   string
	Lang      string
	FullName  string
	Email     string
	ResetURL  string
	ExpiresAt time.Time
	RequestIP string // optional, shown to help users spot unsolicited requests
}

type LessonPlanReadyMailParams struct {
	AppName       string
	Lang          string
	FullName      string
	Email         string
	PlanTitle     string
	SchoolSubject string
	Grade         string
	Lessons       []string // lesson titles in order
	PlanURL       string

	// HasAttachment is set by NewLessonPlanReadyMail
	HasAttachment bool
}

var (
	//go:embed templates/*.html
	templateFS embed.FS

	mailTemplates *template.Template
)

func init() {
	t, err := template.New("mail").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		panic(err)
	}
	mailTemplates = t
}

func render(name string, p any) (string, error) {
	b := bytes.Buffer{}
	err := mailTemplates.ExecuteTemplate(&b, name, p)
	return b.String(), err
}

func RenderRegistration(p RegistrationMailParams) (string, error) {
	return render("registration.html", p)
}

func RenderPasswordReset(p PasswordResetMailParams) (string, error) {
	return render("password_reset.html", p)
}

func RenderLessonPlanReady(p LessonPlanReadyMailParams) (string, error) {
	return render("lesson_plan_ready.html", p)
}

func appName(name string) string {
	if name == "" {
		return defaultAppName
	}
	return name
}

func htmlMail(subject, body, recipient string) *EmailMessage {
	msg := NewEmailMessage(subject, body, recipient)
	msg.HTMLContent = true
	return msg
}

// NewRegistrationMail builds the account confirmation email.
func NewRegistrationMail(p RegistrationMailParams) (*EmailMessage, error) {
	body, err := RenderRegistration(p)
	if err != nil {
		return nil, fmt.Errorf("render registration mail: %w", err)
	}
	return htmlMail("Confirm your email address for "+appName(p.AppName), body, p.Email), nil
}

// NewPasswordResetMail builds the password reset email. Reset links are short
// lived, so it goes through the high priority lane.
func NewPasswordResetMail(p PasswordResetMailParams) (*EmailMessage, error) {
	body, err := RenderPasswordReset(p)
	if err != nil {
		return nil, fmt.Errorf("render password reset mail: %w", err)
	}
	msg := htmlMail("Reset your "+appName(p.AppName)+" password", body, p.Email)
	msg.Priority = true
	return msg, nil
}

// NewLessonPlanReadyMail builds the notification for a finished lesson plan,
// optionally carrying the exported plan as attachment.
func NewLessonPlanReadyMail(p LessonPlanReadyMailParams, export *EmailAttachment) (*EmailMessage, error) {
	p.HasAttachment = export != nil
	body, err := RenderLessonPlanReady(p)
	if err != nil {
		return nil, fmt.Errorf("render lesson plan mail: %w", err)
	}
	msg := htmlMail("Your lesson plan \""+p.PlanTitle+"\" is ready", body, p.Email)
	if export != nil {
		msg.Attach(NewAttachment(export.FileName, export.ContentType, export.Content))
	}
	return msg, nil
}
