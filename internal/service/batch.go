package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	wire "gitlab.com/dirk.krummacker/listdata-contacts/pkg/model"
	"go.uber.org/zap"
)

// changeError is a change of a batch that cannot be applied.
type changeError struct {
	status    int
	contentID string
	message   string
}

func (e *changeError) Error() string {
	return fmt.Sprintf("change %s: %s", e.contentID, e.message)
}

// saveChanges applies a save batch inside one transaction. If any change fails, none is applied
// and the response names the failing change.
//
// Example REST API call:
//
//	> curl http://localhost:8080/_vti_bin/listdata.svc/\$batch --request "POST" --include --header "Content-Type: application/json" --data '{"changes": [{"contentId": "1", "operation": "delete", "id": 56}]}'
func (s *Service) saveChanges(c *gin.Context) {
	var batch wire.SaveBatch
	if err := c.BindJSON(&batch); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "invalid JSON"})
		return
	}
	for _, change := range batch.Changes {
		if err := s.checkChange(change); err != nil {
			s.abortChange(c, err)
			return
		}
	}

	result := wire.SaveResult{Results: make([]wire.ChangeResult, 0, len(batch.Changes))}
	if len(batch.Changes) == 0 {
		c.JSON(http.StatusOK, result)
		return
	}

	tx, err := s.db.Beginx()
	if err != nil {
		s.internalError(c, "begin transaction", err)
		return
	}
	for _, change := range batch.Changes {
		r, err := s.applyChange(tx, change)
		if err != nil {
			if errRollback := tx.Rollback(); errRollback != nil {
				s.logger.Error("rollback failed", zap.Error(errRollback))
			}
			s.abortChange(c, err)
			return
		}
		result.Results = append(result.Results, r)
	}
	if err := tx.Commit(); err != nil {
		s.internalError(c, "commit transaction", err)
		return
	}

	s.logger.Info("applied save batch",
		zap.Int("changes", len(batch.Changes)),
		zap.String("request_id", c.GetHeader("X-Request-ID")),
	)
	c.JSON(http.StatusOK, result)
}

// checkChange validates a change without touching the database.
func (s *Service) checkChange(change wire.Change) error {
	invalid := func(msg string) error {
		return &changeError{status: http.StatusBadRequest, contentID: change.ContentID, message: msg}
	}
	if change.ContentID == "" {
		return invalid("missing content id")
	}
	switch change.Operation {
	case wire.OperationCreate:
		if change.Contact == nil {
			return invalid("missing contact")
		}
		if change.Contact.Id != 0 {
			return invalid("id is assigned by the service")
		}
		if err := s.entityType.Validate(*change.Contact); err != nil {
			return invalid(err.Error())
		}
	case wire.OperationUpdate:
		if change.Id <= 0 || change.Contact == nil {
			return invalid("missing id or contact")
		}
		changed := presentProperties(*change.Contact)
		if len(changed) == 0 {
			return invalid("no values to be updated")
		}
		if err := s.entityType.ValidateProperties(*change.Contact, changed...); err != nil {
			return invalid(err.Error())
		}
	case wire.OperationDelete:
		if change.Id <= 0 {
			return invalid("missing id")
		}
	default:
		return invalid(fmt.Sprintf("unknown operation %q", change.Operation))
	}
	return nil
}

// applyChange executes one checked change within the transaction.
func (s *Service) applyChange(tx *sqlx.Tx, change wire.Change) (wire.ChangeResult, error) {
	result := wire.ChangeResult{ContentID: change.ContentID, Operation: change.Operation, Id: change.Id}
	var err error
	switch change.Operation {
	case wire.OperationCreate:
		result.Id, err = s.insertContact(tx, *change.Contact)
	case wire.OperationUpdate:
		err = s.updateContact(tx, change.Id, *change.Contact)
	case wire.OperationDelete:
		err = s.deleteContact(tx, change.Id)
	}
	if errors.Is(err, errNotFound) {
		return result, &changeError{status: http.StatusNotFound, contentID: change.ContentID, message: "contact not found"}
	}
	return result, err
}

func (s *Service) abortChange(c *gin.Context, err error) {
	var ce *changeError
	if !errors.As(err, &ce) {
		s.internalError(c, "save batch", err)
		return
	}
	c.AbortWithStatusJSON(ce.status, wire.ErrorResponse{Message: ce.message, ContentID: ce.contentID})
}
