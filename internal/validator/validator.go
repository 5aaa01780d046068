package validator

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// trans is the English translator used for gin binding errors.
var trans ut.Translator

// socket validates WebSocket payloads, which never pass through gin binding.
var socket = newEngine()

// Setup registers the validator with English translations on Gin's binding engine.
// Call once during application startup.
func Setup() {
	if v, ok := binding.Validator.Engine().(*govalidator.Validate); ok {
		trans = configure(v)
	}
}

// configure switches field names to JSON tags and installs English messages.
func configure(v *govalidator.Validate) ut.Translator {
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	t, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(v, t)
	return t
}

type engine struct {
	v     *govalidator.Validate
	trans ut.Translator
}

func newEngine() *engine {
	v := govalidator.New(govalidator.WithRequiredStructEnabled())
	return &engine{v: v, trans: configure(v)}
}

func (e *engine) translate(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(e.trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// TranslateErrors takes a binding/validation error and returns a map of
// field name → human-readable error message. If the error is not a
// validation error, it returns a single-key map with "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) && trans != nil {
		for _, fe := range ve {
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}

// Struct validates a decoded WebSocket payload using its `validate` tags.
// Returns nil on success or a translated field error map.
func Struct(v interface{}) map[string]string {
	if err := socket.v.Struct(v); err != nil {
		return socket.translate(err)
	}
	return nil
}
