package validator

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
)

// ErrInvalidGrade is returned when a value is outside the grade policy.
var ErrInvalidGrade = errors.New("invalid grade")

// plainDecimal admits digits with an optional sign and one decimal point or
// comma. Exponents, hex floats and a leading plus are refused.
var plainDecimal = regexp.MustCompile(`^-?\d+([.,]\d+)?$`)

// GradePolicy accepts either a number inside [Min, Max] with at most
// Decimals fraction digits, or one of Tokens (case-insensitive).
type GradePolicy struct {
	Min      float64  `json:"min"`
	Max      float64  `json:"max"`
	Decimals int      `json:"decimals"`
	Tokens   []string `json:"tokens,omitempty"`

	eng *engine
}

type gradeInput struct {
	Grade string `json:"grade" validate:"required,grade"`
}

// NewGradePolicy builds a policy with its own validator instance.
func NewGradePolicy(min, max float64, decimals int, tokens []string) (*GradePolicy, error) {
	if min > max {
		return nil, fmt.Errorf("grade policy: min %v exceeds max %v", min, max)
	}
	if decimals < 0 {
		decimals = 0
	}

	p := &GradePolicy{Min: min, Max: max, Decimals: decimals, Tokens: tokens, eng: newEngine()}

	if err := p.eng.v.RegisterValidation("grade", p.isGrade); err != nil {
		return nil, fmt.Errorf("register grade validation: %w", err)
	}
	err := p.eng.v.RegisterTranslation("grade", p.eng.trans,
		func(t ut.Translator) error {
			return t.Add("grade", "{0} must be a number from {1} to {2}{3}", true)
		},
		func(t ut.Translator, fe govalidator.FieldError) string {
			msg, _ := t.T("grade", fe.Field(), p.format(p.Min), p.format(p.Max), p.tokenHint())
			return msg
		},
	)
	if err != nil {
		return nil, fmt.Errorf("register grade translation: %w", err)
	}
	return p, nil
}

// Validate checks value against the policy. The returned error wraps
// ErrInvalidGrade and carries a human-readable message.
func (p *GradePolicy) Validate(value string) error {
	if err := p.eng.v.Struct(gradeInput{Grade: value}); err != nil {
		fields := p.eng.translate(err)
		msg, ok := fields["grade"]
		if !ok {
			msg = err.Error()
		}
		return fmt.Errorf("%w: %s", ErrInvalidGrade, msg)
	}
	return nil
}

func (p *GradePolicy) isGrade(fl govalidator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	if s == "" {
		return false
	}

	for _, tok := range p.Tokens {
		if strings.EqualFold(s, tok) {
			return true
		}
	}

	if !plainDecimal.MatchString(s) {
		return false
	}
	s = strings.Replace(s, ",", ".", 1)
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return false
	}
	if n < p.Min || n > p.Max {
		return false
	}
	if dot := strings.IndexByte(s, '.'); dot >= 0 && len(s)-dot-1 > p.Decimals {
		return false
	}
	return true
}

func (p *GradePolicy) format(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func (p *GradePolicy) tokenHint() string {
	if len(p.Tokens) == 0 {
		return ""
	}
	return " or one of " + strings.Join(p.Tokens, ", ")
}
