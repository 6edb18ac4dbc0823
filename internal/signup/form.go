package signup

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"legalease/internal/logging"
	"legalease/internal/remote"

	"go.uber.org/zap"
)

// Form field names as used by the signup page.
const (
	FieldFirstName       = "firstName"
	FieldLastName        = "lastName"
	FieldEmail           = "email"
	FieldPhone           = "phone"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirmPassword"
	FieldOrganization    = "organization"
	FieldUserType        = "userType"
	FieldAgreeToTerms    = "agreeToTerms"
)

const (
	SuccessMessage      = "Account created successfully! Please check your email for verification."
	ConnectivityMessage = "Unable to connect to the server. Please check your connection and try again."
	unexpectedPrefix    = "An error occurred. Please check your connection and try again. Error: "

	minPasswordLength = 8
	defaultUserType   = "client"
	fallbackCode      = "OBSERVER"
)

var (
	emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-()]+$`)
)

// userTypeCodes maps the role picked on the form to the account service code.
var userTypeCodes = map[string]string{
	"client":      "OBSERVER",
	"lawyer":      "DEFENSE",
	"prosecution": "PROSECUTION",
	"mediator":    "MEDIATOR",
	"judge":       "JUDGE",
}

// UserTypeOption is one entry of the role selector.
type UserTypeOption struct {
	Value string
	Label string
}

var UserTypeOptions = []UserTypeOption{
	{Value: "client", Label: "Client"},
	{Value: "lawyer", Label: "Lawyer"},
	{Value: "prosecution", Label: "Prosecution"},
	{Value: "mediator", Label: "Mediator"},
	{Value: "judge", Label: "Judge"},
}

type Form struct {
	FirstName       string `json:"firstName" form:"firstName"`
	LastName        string `json:"lastName" form:"lastName"`
	Email           string `json:"email" form:"email"`
	Phone           string `json:"phone" form:"phone"`
	Password        string `json:"password" form:"password"`
	ConfirmPassword string `json:"confirmPassword" form:"confirmPassword"`
	Organization    string `json:"organization" form:"organization"`
	UserType        string `json:"userType" form:"userType"`
	AgreeToTerms    bool   `json:"agreeToTerms" form:"agreeToTerms"`
}

// NewForm returns the form in its initial state.
func NewForm() Form {
	return Form{UserType: defaultUserType}
}

// Errors maps a form field to its inline message.
type Errors map[string]string

// Validate checks every rule and reports one message per failing field.
func (f Form) Validate() Errors {
	errs := Errors{}

	if strings.TrimSpace(f.FirstName) == "" {
		errs[FieldFirstName] = "First name is required"
	}
	if strings.TrimSpace(f.LastName) == "" {
		errs[FieldLastName] = "Last name is required"
	}

	switch {
	case strings.TrimSpace(f.Email) == "":
		errs[FieldEmail] = "Email is required"
	case !emailPattern.MatchString(f.Email):
		errs[FieldEmail] = "Email is invalid"
	}

	switch {
	case strings.TrimSpace(f.Phone) == "":
		errs[FieldPhone] = "Phone number is required"
	case !phonePattern.MatchString(f.Phone):
		errs[FieldPhone] = "Phone number is invalid"
	}

	switch {
	case f.Password == "":
		errs[FieldPassword] = "Password is required"
	case utf8.RuneCountInString(f.Password) < minPasswordLength:
		errs[FieldPassword] = "Password must be at least 8 characters"
	}

	switch {
	case f.ConfirmPassword == "":
		errs[FieldConfirmPassword] = "Please confirm your password"
	case f.Password != f.ConfirmPassword:
		errs[FieldConfirmPassword] = "Passwords do not match"
	}

	if !f.AgreeToTerms {
		errs[FieldAgreeToTerms] = "You must agree to the terms and conditions"
	}
	return errs
}

// BackendUserType returns the account service code; unknown roles become OBSERVER.
func (f Form) BackendUserType() string {
	if code, ok := userTypeCodes[f.UserType]; ok {
		return code
	}
	return fallbackCode
}

// Request builds the signup payload. The email doubles as the username.
func (f Form) Request() remote.SignupRequest {
	return remote.SignupRequest{
		Username:        f.Email,
		Email:           f.Email,
		Password:        f.Password,
		ConfirmPassword: f.ConfirmPassword,
		UserType:        f.BackendUserType(),
		FirstName:       f.FirstName,
		LastName:        f.LastName,
		PhoneNumber:     f.Phone,
		Organization:    f.Organization,
	}
}

// Submitter creates accounts.
type Submitter interface {
	Signup(ctx context.Context, req remote.SignupRequest) (*remote.Account, error)
}

// Kind classifies how a submission ended.
type Kind int

const (
	KindCreated Kind = iota
	KindInvalid
	KindRejected
	KindUnreachable
	KindUnexpected
)

// Outcome is what the page shows after a submission.
type Outcome struct {
	Kind    Kind            `json:"-"`
	Form    Form            `json:"-"`
	Errors  Errors          `json:"errors,omitempty"`
	Alert   string          `json:"alert,omitempty"`
	Success string          `json:"message,omitempty"`
	Account *remote.Account `json:"account,omitempty"`
	// Submitted is false when local validation stopped the request.
	Submitted bool `json:"-"`
}

// Failed reports whether the outcome carries field errors or an alert.
func (o Outcome) Failed() bool {
	return len(o.Errors) > 0 || o.Alert != ""
}

// Submit validates the form and, when it is valid, creates the account.
func Submit(ctx context.Context, s Submitter, f Form) Outcome {
	if errs := f.Validate(); len(errs) > 0 {
		return Outcome{Kind: KindInvalid, Form: f, Errors: errs}
	}

	account, err := s.Signup(ctx, f.Request())
	if err == nil {
		logging.WithCtx(ctx).Info("account created", zap.String("user_type", f.BackendUserType()))
		return Outcome{Kind: KindCreated, Form: NewForm(), Errors: Errors{}, Success: SuccessMessage, Account: account, Submitted: true}
	}

	var signupErr *remote.SignupError
	switch {
	case errors.As(err, &signupErr):
		errs, alert := TranslateServerErrors(signupErr.Fields)
		return Outcome{Kind: KindRejected, Form: f, Errors: errs, Alert: alert, Submitted: true}
	case errors.Is(err, remote.ErrUnreachable):
		return Outcome{Kind: KindUnreachable, Form: f, Errors: Errors{}, Alert: ConnectivityMessage, Submitted: true}
	default:
		logging.WithCtx(ctx).Warn("signup failed", zap.Error(err))
		return Outcome{Kind: KindUnexpected, Form: f, Errors: Errors{}, Alert: unexpectedPrefix + err.Error(), Submitted: true}
	}
}
