package common

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorStatusCodes(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeLockContention, http.StatusConflict},
		{ErrCodeValidationFailed, http.StatusBadRequest},
		{ErrCodeForbidden, http.StatusForbidden},
		{ErrCodeBackupProvenance, http.StatusUnprocessableEntity},
		{ErrCodeScriptExecution, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, NewAppError(tt.code, "x").StatusCode)
		})
	}
}

func TestAppErrorMessageAndChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewAppErrorWithDetails(ErrCodeMissingBackup, "no backup", "version 7").WithCause(cause)

	assert.Equal(t, "MISSING_BACKUP: no backup (version 7): connection reset", err.Error())
	assert.ErrorIs(t, err, cause)

	wrapped := fmt.Errorf("rollback: %w", err)
	assert.Same(t, err, GetAppError(wrapped))
	assert.True(t, HasErrorCode(wrapped, ErrCodeMissingBackup))
	assert.Equal(t, ErrCodeMissingBackup, CodeOf(wrapped))
	assert.Equal(t, ErrCodeInternal, CodeOf(cause))
}

func TestWrapErrorKeepsExistingCode(t *testing.T) {
	assert.Nil(t, WrapError(nil, ErrCodeDatabaseQuery, "x"))

	inner := ErrNotFound("backup")
	wrapped := WrapError(fmt.Errorf("load: %w", inner), ErrCodeDatabaseQuery, "load backup")
	assert.Equal(t, ErrCodeNotFound, wrapped.Code)

	plain := WrapError(errors.New("disk full"), ErrCodeExternalService, "store payload")
	assert.Equal(t, ErrCodeExternalService, plain.Code)
	assert.Equal(t, http.StatusBadGateway, plain.StatusCode)
}

func TestValidationErrors(t *testing.T) {
	var errs ValidationErrors
	assert.False(t, errs.HasErrors())
	assert.Nil(t, errs.ToAppError())

	errs.Add("name", "is required", "")
	assert.Equal(t, "validation failed: name is required", errs.Error())

	errs.Add("rto", "must be positive", -1)
	appErr := errs.ToAppError()
	require.NotNil(t, appErr)
	assert.Equal(t, ErrCodeValidationFailed, appErr.Code)
	assert.Contains(t, appErr.Details, "name, rto")
	assert.Len(t, appErr.Context["validation_errors"], 2)
}

func TestCoalesceAndUniqueSorted(t *testing.T) {
	assert.Equal(t, "b", Coalesce("", "b", "c"))
	assert.Equal(t, 0, Coalesce[int]())
	assert.Equal(t, []string{"a", "b"}, UniqueSorted([]string{"b", " a", "", "b"}))
}
