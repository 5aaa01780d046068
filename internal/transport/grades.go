package transport

import (
	"context"
	"errors"
	"net/http"

	"github.com/stemsi/gradedesk/internal/model"
)

// errNotJSON marks a 2xx reply that cannot confirm the save, such as an HTML
// page served by a proxy or a login redirect.
var errNotJSON = errors.New("grade save response is not JSON")

// GradeSaver posts grade entries to the grades server.
type GradeSaver struct {
	client *Client
	path   string
}

// NewGradeSaver builds a saver posting to path, e.g. "/api/grades/save/".
func NewGradeSaver(client *Client, path string) *GradeSaver {
	return &GradeSaver{client: client, path: path}
}

// SaveGrade sends one entry. success=false in the reply is a RejectedError.
func (s *GradeSaver) SaveGrade(ctx context.Context, entry model.GradeEntry) (*model.SaveGradeResult, error) {
	out, err := s.client.Send(ctx, Request{
		Method: http.MethodPost,
		Path:   s.path,
		Body: model.SaveGradeRequest{
			Grade:        entry.Value,
			StudentID:    entry.StudentID,
			AssignmentID: entry.AssignmentID,
			Comment:      entry.Comment,
		},
	})
	if err != nil {
		return nil, err
	}
	if !out.JSON {
		return nil, &NetworkError{Method: http.MethodPost, URL: s.path, Err: errNotJSON}
	}
	if err := out.Rejection(); err != nil {
		return nil, err
	}
	return &model.SaveGradeResult{Success: out.Success, Message: out.Message}, nil
}
