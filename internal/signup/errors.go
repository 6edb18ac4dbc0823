package signup

import "sort"

const nonFieldErrors = "non_field_errors"

// serverFieldNames translates account service field names to form fields.
var serverFieldNames = map[string]string{
	"username":         FieldEmail,
	"phone_number":     FieldPhone,
	"first_name":       FieldFirstName,
	"last_name":        FieldLastName,
	"confirm_password": FieldConfirmPassword,
	"user_type":        FieldUserType,
}

// TranslateServerErrors maps server field errors onto form fields, keeping the
// first message of each. non_field_errors comes back as the alert.
func TranslateServerErrors(fields map[string][]string) (Errors, string) {
	errs := Errors{}
	alert := ""
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	// sorted so a translated key and its target collide the same way every time
	sort.Strings(keys)
	for _, key := range keys {
		messages := fields[key]
		if len(messages) == 0 {
			continue
		}
		if key == nonFieldErrors {
			alert = messages[0]
			continue
		}
		name := key
		if mapped, ok := serverFieldNames[key]; ok {
			name = mapped
		}
		errs[name] = messages[0]
	}
	return errs, alert
}
