package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"decision-flip/backend/internal/ai"
	"decision-flip/backend/internal/lifecycle"
	"decision-flip/backend/internal/store"
)

const (
	msgOracleUnusable = "The analysis service returned a response that could not be used. Please try again."
	msgOracleDisabled = "The analysis service is not configured."
)

func (s *Server) renderError(c *gin.Context, status int, err error) {
	s.renderMessage(c, status, err.Error())
}

func (s *Server) renderMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// renderFailure maps domain errors to a status and message. Unclassified errors
// are logged and rendered as fallback.
func (s *Server) renderFailure(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, lifecycle.ErrInvalidInput):
		s.renderError(c, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		s.renderMessage(c, http.StatusNotFound, "Decision not found")
	case errors.Is(err, lifecycle.ErrAlreadyFinalized), errors.Is(err, lifecycle.ErrInvalidTransition):
		s.renderError(c, http.StatusConflict, err)
	case errors.Is(err, ai.ErrRefused):
		s.renderMessage(c, http.StatusBadRequest, refusalText(err))
	case errors.Is(err, ai.ErrMalformedResponse):
		logrus.WithError(err).Warn("unusable oracle response")
		s.renderMessage(c, http.StatusBadGateway, msgOracleUnusable)
	case errors.Is(err, ai.ErrDisabled):
		s.renderMessage(c, http.StatusServiceUnavailable, msgOracleDisabled)
	default:
		logrus.WithError(err).WithField("path", c.FullPath()).Error(fallback)
		s.renderMessage(c, http.StatusInternalServerError, fallback)
	}
}

// refusalText strips the sentinel prefix so the oracle's own words reach the user.
func refusalText(err error) string {
	text := strings.TrimSpace(strings.TrimPrefix(err.Error(), ai.ErrRefused.Error()+":"))
	if text == "" {
		return ai.ErrRefused.Error()
	}
	return text
}

// bindingError turns gin binding failures into a user-facing message.
func bindingError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return errors.New("request body is required")
	case errors.As(err, &syntaxErr):
		return errors.New("request body must be valid JSON")
	case errors.As(err, &typeErr):
		return fmt.Errorf("%s has the wrong type", typeErr.Field)
	}
	return err
}

func fieldMessage(fe validator.FieldError) string {
	field := jsonName(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("at least %s %s required", fe.Param(), field)
		}
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func jsonName(field string) string {
	if field == "" {
		return field
	}
	runes := []rune(field)
	runes[0] = unicode.ToLower(runes[0])
	return string(runes)
}
