// conf/validate.go

package conf

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tphakala/fieldalias/internal/errors"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateSettings checks struct tags and the rules that span fields.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	if err := getValidator().Struct(settings); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			ve.Errors = append(ve.Errors, describeFieldError(fe))
		}
	}

	if err := validateCatalogSettings(&settings.Catalog); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if err := validateMetricsSettings(&settings.Metrics); err != nil {
		ve.Errors = append(ve.Errors, err.Error())
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

// validateCatalogSettings requires a path for file-backed catalogs
func validateCatalogSettings(settings *CatalogSettings) error {
	if settings.Type != CatalogNone && strings.TrimSpace(settings.Path) == "" {
		return fmt.Errorf("catalog.path is required for catalog type %q", settings.Type)
	}
	return nil
}

// validateMetricsSettings requires metrics to be enabled when an HTTP
// listener is configured
func validateMetricsSettings(settings *MetricsSettings) error {
	if settings.Listen != "" && !settings.Enabled {
		return errors.NewStd("metrics.listen is set but metrics.enabled is false")
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	key := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Settings."))
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s (value %v)", key, fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed %s (value %v)", key, fe.Tag(), fe.Value())
}
