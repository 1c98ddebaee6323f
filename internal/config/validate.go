// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/copima/copima/internal/errors"
)

// Severity grades a validation issue.
type Severity string

const (
	// SeverityError blocks startup.
	SeverityError Severity = "error"
	// SeverityWarning is reported but does not block.
	SeverityWarning Severity = "warning"
)

// Issue is a single validation finding.
type Issue struct {
	Field    string   `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s [%s]: %s", i.Field, i.Severity, i.Message)
}

// Validator checks a resolved Config: struct tags first, then the
// cross-field business rules tags cannot express. Findings accumulate; the
// caller always sees every issue, never just the first.
type Validator struct {
	validate *validator.Validate
	issues   []Issue
}

// NewValidator builds a validator with the custom tag functions registered.
func NewValidator() *Validator {
	v := validator.New()

	// Report fields by their config key, not the Go field name.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("filenaming", validateFileNaming) //nolint:errcheck // static tag registration
	v.RegisterValidation("loglevel", validateLogLevel)     //nolint:errcheck // static tag registration

	return &Validator{validate: v}
}

func validateFileNaming(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case NamingLowercase, NamingKebab, NamingSnake:
		return true
	}
	return false
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// Validate checks cfg and returns every finding.
func (cv *Validator) Validate(cfg *Config) []Issue {
	cv.issues = nil

	if err := cv.validate.Struct(cfg); err != nil {
		cv.processValidationErrors(err)
	}
	cv.validateBusinessRules(cfg)

	return cv.issues
}

// processValidationErrors converts tag failures into issues.
func (cv *Validator) processValidationErrors(err error) {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		cv.addIssue("config", SeverityError, err.Error())
		return
	}
	for _, ve := range validationErrors {
		cv.addIssue(fieldPath(ve), SeverityError, messageFor(ve))
	}
}

// fieldPath turns the validator namespace into the dotted config key, e.g.
// Config.gitlab.maxConcurrency -> gitlab.maxConcurrency.
func fieldPath(ve validator.FieldError) string {
	path := ve.Namespace()
	if idx := strings.Index(path, "."); idx >= 0 {
		path = path[idx+1:]
	}
	return path
}

func messageFor(ve validator.FieldError) string {
	switch ve.Tag() {
	case "required":
		return "must not be empty"
	case "url":
		return fmt.Sprintf("must be an absolute URL, got %q", ve.Value())
	case "gt":
		return "must be positive"
	case "min":
		return fmt.Sprintf("must be at least %s, got %v", ve.Param(), ve.Value())
	case "max":
		return fmt.Sprintf("must be at most %s, got %v", ve.Param(), ve.Value())
	case "oneof":
		return fmt.Sprintf("must be one of %s; got %q", strings.ReplaceAll(ve.Param(), " ", ", "), ve.Value())
	case "startswith":
		return fmt.Sprintf("must begin with %s", ve.Param())
	case "filenaming":
		return fmt.Sprintf("must be one of lowercase, kebab-case, snake_case; got %q", ve.Value())
	case "loglevel":
		return fmt.Sprintf("unknown level %q", ve.Value())
	default:
		return fmt.Sprintf("failed validation for tag %q", ve.Tag())
	}
}

// validateBusinessRules covers the conditional rules struct tags cannot
// express.
func (cv *Validator) validateBusinessRules(cfg *Config) {
	if cfg.Resume.Enabled {
		if cfg.Resume.StateFile == "" {
			cv.addIssue("resume.stateFile", SeverityError, "required when resume is enabled")
		}
		if cfg.Resume.AutoSaveInterval <= 0 {
			cv.addIssue("resume.autoSaveInterval", SeverityError, "must be positive")
		}
	}

	if cfg.Progress.Enabled && cfg.Progress.Interval <= 0 {
		cv.addIssue("progress.interval", SeverityError, "must be positive")
	}

	for name, provider := range cfg.OAuth2.Providers {
		if provider.ClientSecret == "" {
			cv.addIssue("oauth2.providers."+name+".clientSecret", SeverityWarning,
				"empty secret; public clients only")
		}
	}
}

func (cv *Validator) addIssue(field string, severity Severity, message string) {
	cv.issues = append(cv.issues, Issue{Field: field, Severity: severity, Message: message})
}

// Validate checks cfg with a fresh Validator.
func Validate(cfg *Config) []Issue {
	return NewValidator().Validate(cfg)
}

// RequireValid returns ErrConfigInvalid carrying every error-severity issue,
// or nil when cfg passes.
func RequireValid(cfg *Config) error {
	var failed []string
	for _, issue := range Validate(cfg) {
		if issue.Severity == SeverityError {
			failed = append(failed, issue.String())
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.Wrap(fmt.Errorf("%s", strings.Join(failed, "; ")), errors.ErrConfigInvalid)
}
