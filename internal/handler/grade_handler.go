package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/gradedesk/internal/logger"
	"github.com/stemsi/gradedesk/internal/response"
	"github.com/stemsi/gradedesk/internal/validator"
)

// GradeHandler exposes the grade policy so pages can pre-check values.
type GradeHandler struct {
	policy *validator.GradePolicy
	log    zerolog.Logger
}

// NewGradeHandler creates a new GradeHandler.
func NewGradeHandler(policy *validator.GradePolicy, log zerolog.Logger) *GradeHandler {
	return &GradeHandler{
		policy: policy,
		log:    logger.Component(log, "grade_handler"),
	}
}

type validateGradeRequest struct {
	Grade string `json:"grade" binding:"required,max=32"`
}

type validateGradeResponse struct {
	Grade string `json:"grade"`
	Valid bool   `json:"valid"`
}

// GetPolicy godoc
// GET /api/v1/grades/policy
func (h *GradeHandler) GetPolicy(c *gin.Context) {
	response.Success(c, http.StatusOK, h.policy)
}

// ValidateGrade godoc
// POST /api/v1/grades/validate
// Checks a value against the grade policy without saving it.
func (h *GradeHandler) ValidateGrade(c *gin.Context) {
	var req validateGradeRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.policy.Validate(req.Grade); err != nil {
		if !errors.Is(err, validator.ErrInvalidGrade) {
			h.log.Error().Err(err).Msg("Grade policy failed")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
			return
		}
		msg := strings.TrimPrefix(err.Error(), validator.ErrInvalidGrade.Error()+": ")
		response.FailWithFields(c, http.StatusUnprocessableEntity, response.ErrInvalidGrade, map[string]string{"grade": msg})
		return
	}

	response.Success(c, http.StatusOK, validateGradeResponse{Grade: strings.TrimSpace(req.Grade), Valid: true})
}
