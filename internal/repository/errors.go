package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"potluck/chat-service/internal/models"
)

// invalid_text_representation, raised when a chat id is not a valid UUID.
const pqInvalidText = "22P02"

// classify maps driver errors onto the models error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrChatNotFound
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return transient(err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if pqErr.Code == pqInvalidText {
			return models.ErrChatNotFound
		}
		switch pqErr.Code.Class() {
		// connection_exception, transaction_rollback, insufficient_resources, operator_intervention
		case "08", "40", "53", "57":
			return transient(err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return transient(err)
	}
	return err
}

func transient(err error) error {
	return fmt.Errorf("%w: %v", models.ErrTransientStorage, err)
}
