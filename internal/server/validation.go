package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const (
	maxNameLength   = 20
	maxPhraseLength = 140
	maxPromptLength = 280
)

var validatorOnce sync.Once

func registerValidators() {
	validatorOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("phrase", func(fl validator.FieldLevel) bool {
			_, err := validatePhrase(fl.Field().String())
			return err == nil
		})
		_ = engine.RegisterValidation("playername", func(fl validator.FieldLevel) bool {
			_, err := validateName(fl.Field().String())
			return err == nil
		})
	})
}

// phraseRules is the payload validator the round engine calls before
// accepting a submission.
type phraseRules struct{}

func (phraseRules) ValidatePhrase(text string) (string, error) {
	return validatePhrase(text)
}

func validatePhrase(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", errors.New("phrase is required")
	}
	if len(trimmed) > maxPhraseLength {
		return "", fmt.Errorf("phrase must be %d characters or fewer", maxPhraseLength)
	}
	if !isSafeText(trimmed) {
		return "", errors.New("phrase contains unsupported characters")
	}
	return trimmed, nil
}

func validateName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", errors.New("name is required")
	}
	if len(trimmed) > maxNameLength {
		return "", fmt.Errorf("name must be %d characters or fewer", maxNameLength)
	}
	if !isSafeText(trimmed) {
		return "", errors.New("name contains unsupported characters")
	}
	return trimmed, nil
}

func validatePromptText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", errors.New("prompt is required")
	}
	if len(trimmed) > maxPromptLength {
		return "", fmt.Errorf("prompt must be %d characters or fewer", maxPromptLength)
	}
	if !isSafeText(trimmed) {
		return "", errors.New("prompt contains unsupported characters")
	}
	return trimmed, nil
}

func isSafeText(text string) bool {
	for _, r := range text {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}
