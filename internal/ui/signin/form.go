// Package signin prompts for the backend project and user credentials.
package signin

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/go-playground/validator/v10"
)

// Values are the fields collected by the sign-in form.
type Values struct {
	ProjectURL string
	AnonKey    string
	Email      string
	Password   string
}

var validate = validator.New()

// NewForm builds the sign-in form. The project group is shown only when
// askProject is set, i.e. when no backend is configured yet.
func NewForm(v *Values, askProject bool) *huh.Form {
	var groups []*huh.Group

	if askProject {
		groups = append(groups, huh.NewGroup(
			huh.NewInput().
				Title("Project URL").
				Description("Backend project URL (e.g., https://abc.supabase.co)").
				Placeholder("https://abc.supabase.co").
				Value(&v.ProjectURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Anon key").
				Description("Public API key of the project").
				EchoMode(huh.EchoModePassword).
				Value(&v.AnonKey).
				Validate(validateRequired("Anon key")),
		))
	}

	groups = append(groups, huh.NewGroup(
		huh.NewInput().
			Title("Email").
			Placeholder("you@example.com").
			Value(&v.Email).
			Validate(validateEmail),
		huh.NewInput().
			Title("Password").
			EchoMode(huh.EchoModePassword).
			Value(&v.Password).
			Validate(validateRequired("Password")),
	))

	return huh.NewForm(groups...).WithWidth(60)
}

// Prompt runs the form in the terminal and fills v.
func Prompt(v *Values, askProject bool) error {
	if err := NewForm(v, askProject).Run(); err != nil {
		return fmt.Errorf("running sign-in form: %w", err)
	}
	v.ProjectURL = strings.TrimRight(strings.TrimSpace(v.ProjectURL), "/")
	v.Email = strings.TrimSpace(v.Email)
	return nil
}

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://abc.supabase.co)")
	}
	return nil
}

func validateEmail(s string) error {
	if err := validate.Var(strings.TrimSpace(s), "required,email"); err != nil {
		return fmt.Errorf("a valid email is required")
	}
	return nil
}
