package flow

import (
	"strings"

	"github.com/sells-group/enroll-cli/internal/model"
)

// DetailsInput is the owner form submitted on the details step. Pets
// overrides the session's pets when set, e.g. to complete a date of birth.
type DetailsInput struct {
	Owner   model.Owner `json:"owner"`
	Pets    []model.Pet `json:"pets,omitempty"`
	Consent bool        `json:"consent"`
}

// PaymentInput completes enrollment. A zero AuthorizedAmount falls back to
// the amount persisted by the details step; a nil Billing uses the owner.
type PaymentInput struct {
	AuthorizedAmount float64      `json:"authorized_amount,omitempty"`
	Billing          *model.Owner `json:"billing,omitempty"`
}

// normalize validates the form and returns the owner with a digits-only
// phone and the pets with resolved dates of birth.
func (in DetailsInput) normalize(sess *model.Session) (model.Owner, []model.Pet, error) {
	owner := in.Owner
	owner.FirstName = strings.TrimSpace(owner.FirstName)
	owner.LastName = strings.TrimSpace(owner.LastName)
	owner.Email = strings.TrimSpace(owner.Email)
	owner.Street = strings.TrimSpace(owner.Street)
	owner.City = strings.TrimSpace(owner.City)
	owner.State = strings.ToUpper(strings.TrimSpace(owner.State))
	owner.Zip = strings.TrimSpace(owner.Zip)

	required := []struct{ field, value string }{
		{"first_name", owner.FirstName},
		{"last_name", owner.LastName},
		{"email", owner.Email},
		{"phone", owner.Phone},
		{"street", owner.Street},
		{"city", owner.City},
		{"state", owner.State},
		{"zip", owner.Zip},
	}
	for _, r := range required {
		if r.value == "" {
			return model.Owner{}, nil, validation("owner."+r.field, "%s is required", strings.ReplaceAll(r.field, "_", " "))
		}
	}
	if !strings.Contains(owner.Email, "@") {
		return model.Owner{}, nil, validation("owner.email", "email %q is not valid", owner.Email)
	}
	phone := digits(owner.Phone)
	if len(phone) == 11 && phone[0] == '1' {
		phone = phone[1:]
	}
	if len(phone) != 10 {
		return model.Owner{}, nil, validation("owner.phone", "phone must have exactly 10 digits")
	}
	owner.Phone = phone
	if len(owner.State) != 2 {
		return model.Owner{}, nil, validation("owner.state", "state must be a two-letter code")
	}

	if !in.Consent {
		return model.Owner{}, nil, validation("consent", "consent is required to continue")
	}

	pets := in.Pets
	if len(pets) == 0 {
		pets = sess.Pets
	}
	if len(pets) == 0 {
		return model.Owner{}, nil, validation("pets", "at least one pet is required")
	}
	resolved := make([]model.Pet, len(pets))
	for i, p := range pets {
		if strings.TrimSpace(p.Name) == "" {
			return model.Owner{}, nil, validation("pets.name", "every pet needs a name")
		}
		dob, err := model.ResolveDate(p.DateOfBirth)
		if err != nil {
			return model.Owner{}, nil, validation("pets.date_of_birth", "%s: %s", p.Name, dateMessage(err))
		}
		p.DateOfBirth = dob
		resolved[i] = p
	}
	return owner, resolved, nil
}

func dateMessage(err error) string {
	if inc, ok := err.(*model.IncompleteDateError); ok {
		return inc.Error()
	}
	return "date of birth is not a recognizable date"
}

func missingBilling(b model.Owner) string {
	switch {
	case strings.TrimSpace(b.FirstName) == "":
		return "first_name"
	case strings.TrimSpace(b.LastName) == "":
		return "last_name"
	case strings.TrimSpace(b.Street) == "":
		return "street"
	case strings.TrimSpace(b.City) == "":
		return "city"
	case strings.TrimSpace(b.State) == "":
		return "state"
	case strings.TrimSpace(b.Zip) == "":
		return "zip"
	}
	return ""
}

func digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
