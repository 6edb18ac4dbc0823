package signup

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"legalease/internal/remote"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validForm() Form {
	return Form{
		FirstName:       "Ada",
		LastName:        "Lovelace",
		Email:           "ada@example.com",
		Phone:           "+1 (555) 010-9999",
		Password:        "longenough",
		ConfirmPassword: "longenough",
		Organization:    "Analytical Engines",
		UserType:        "lawyer",
		AgreeToTerms:    true,
	}
}

type fakeSubmitter struct {
	calls   int
	last    remote.SignupRequest
	account *remote.Account
	err     error
}

func (f *fakeSubmitter) Signup(ctx context.Context, req remote.SignupRequest) (*remote.Account, error) {
	f.calls++
	f.last = req
	return f.account, f.err
}

func TestValidateAcceptsValidForm(t *testing.T) {
	assert.Empty(t, validForm().Validate())
}

func TestValidateRequiredFields(t *testing.T) {
	errs := NewForm().Validate()
	assert.Equal(t, Errors{
		FieldFirstName:       "First name is required",
		FieldLastName:        "Last name is required",
		FieldEmail:           "Email is required",
		FieldPhone:           "Phone number is required",
		FieldPassword:        "Password is required",
		FieldConfirmPassword: "Please confirm your password",
		FieldAgreeToTerms:    "You must agree to the terms and conditions",
	}, errs)
}

func TestValidateWhitespaceNames(t *testing.T) {
	f := validForm()
	f.FirstName = "   "
	errs := f.Validate()
	assert.Equal(t, "First name is required", errs[FieldFirstName])
}

func TestValidatePasswordLength(t *testing.T) {
	f := validForm()
	f.Password = "1234567"
	f.ConfirmPassword = "1234567"
	assert.Equal(t, "Password must be at least 8 characters", f.Validate()[FieldPassword])

	f.Password = "12345678"
	f.ConfirmPassword = "12345678"
	_, failed := f.Validate()[FieldPassword]
	assert.False(t, failed)
}

func TestValidateMismatchedPasswords(t *testing.T) {
	f := validForm()
	f.ConfirmPassword = "different1"
	errs := f.Validate()
	assert.Equal(t, Errors{FieldConfirmPassword: "Passwords do not match"}, errs)

	sub := &fakeSubmitter{}
	out := Submit(context.Background(), sub, f)
	assert.Equal(t, 0, sub.calls)
	assert.False(t, out.Submitted)
	assert.Equal(t, "Passwords do not match", out.Errors[FieldConfirmPassword])
}

func TestValidateEmailAndPhoneFormats(t *testing.T) {
	cases := []struct {
		email, phone       string
		emailErr, phoneErr string
	}{
		{"ada@example", "555-0100", "Email is invalid", ""},
		{"ada example.com", "555 0100", "Email is invalid", ""},
		{"a@b.c", "(555) 0100", "", ""},
		{"a@b.c", "555.0100", "", "Phone number is invalid"},
		{"a@b.c", "++5550100", "", "Phone number is invalid"},
		{"a@b.c", "call me", "", "Phone number is invalid"},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s/%s", tc.email, tc.phone), func(t *testing.T) {
			f := validForm()
			f.Email = tc.email
			f.Phone = tc.phone
			errs := f.Validate()
			assert.Equal(t, tc.emailErr, errs[FieldEmail])
			assert.Equal(t, tc.phoneErr, errs[FieldPhone])
		})
	}
}

func TestBackendUserType(t *testing.T) {
	cases := map[string]string{
		"client":      "OBSERVER",
		"lawyer":      "DEFENSE",
		"prosecution": "PROSECUTION",
		"mediator":    "MEDIATOR",
		"judge":       "JUDGE",
		"alien":       "OBSERVER",
		"":            "OBSERVER",
	}
	for in, want := range cases {
		f := Form{UserType: in}
		assert.Equal(t, want, f.BackendUserType(), in)
	}
}

func TestSubmitSuccessResetsForm(t *testing.T) {
	sub := &fakeSubmitter{account: &remote.Account{ID: 3}}
	out := Submit(context.Background(), sub, validForm())

	require.Equal(t, 1, sub.calls)
	assert.Equal(t, "ada@example.com", sub.last.Username)
	assert.Equal(t, "ada@example.com", sub.last.Email)
	assert.Equal(t, "DEFENSE", sub.last.UserType)
	assert.Equal(t, "+1 (555) 010-9999", sub.last.PhoneNumber)
	assert.Equal(t, SuccessMessage, out.Success)
	assert.Equal(t, NewForm(), out.Form)
	assert.False(t, out.Failed())
	assert.Equal(t, KindCreated, out.Kind)
}

func TestSubmitServerFieldErrors(t *testing.T) {
	sub := &fakeSubmitter{err: &remote.SignupError{StatusCode: 400, Fields: map[string][]string{
		"phone_number": {"invalid"},
		"username":     {"A user with that username already exists.", "second"},
		"organization": {"too long"},
	}}}
	f := validForm()
	out := Submit(context.Background(), sub, f)

	assert.Equal(t, "invalid", out.Errors[FieldPhone])
	assert.Equal(t, "A user with that username already exists.", out.Errors[FieldEmail])
	assert.Equal(t, "too long", out.Errors[FieldOrganization])
	assert.Empty(t, out.Alert)
	assert.Equal(t, f, out.Form)
	assert.True(t, out.Failed())
	assert.Equal(t, KindRejected, out.Kind)
}

func TestSubmitNonFieldErrorsBecomeAlert(t *testing.T) {
	sub := &fakeSubmitter{err: &remote.SignupError{StatusCode: 400, Fields: map[string][]string{
		"non_field_errors": {"Registration is closed."},
	}}}
	out := Submit(context.Background(), sub, validForm())
	assert.Equal(t, "Registration is closed.", out.Alert)
	assert.Empty(t, out.Errors)
}

func TestSubmitTransportFailure(t *testing.T) {
	sub := &fakeSubmitter{err: fmt.Errorf("%w: dial tcp: refused", remote.ErrUnreachable)}
	out := Submit(context.Background(), sub, validForm())
	assert.Equal(t, ConnectivityMessage, out.Alert)
	assert.Equal(t, KindUnreachable, out.Kind)
}

func TestSubmitUnexpectedFailure(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("remote returned status 500")}
	out := Submit(context.Background(), sub, validForm())
	assert.Contains(t, out.Alert, "remote returned status 500")
	assert.NotEqual(t, ConnectivityMessage, out.Alert)
	assert.Equal(t, KindUnexpected, out.Kind)
}

func TestTranslateServerErrorsPassThrough(t *testing.T) {
	errs, alert := TranslateServerErrors(map[string][]string{
		"first_name":       {"required"},
		"last_name":        {"required"},
		"confirm_password": {"mismatch"},
		"user_type":        {"bad"},
		"email":            {},
	})
	assert.Empty(t, alert)
	assert.Equal(t, Errors{
		FieldFirstName:       "required",
		FieldLastName:        "required",
		FieldConfirmPassword: "mismatch",
		FieldUserType:        "bad",
	}, errs)
}
