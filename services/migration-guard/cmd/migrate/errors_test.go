package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JAAFAR1996/ai-instgram--sub007/services/migration-guard/domain/entity"
	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"plain error", errors.New("boom"), exitFailure},
		{"script failure", entity.NewScriptExecutionError("7", 2, errors.New("syntax")), exitFailure},
		{"validation", common.ErrValidationFailed("checksum mismatch"), exitPrecondition},
		{"missing backup", entity.NewMissingBackupError("7", entity.BackupTypePreMigration, "none"), exitPrecondition},
		{"backup validation", entity.NewBackupValidationError("b1", "corrupt"), exitPrecondition},
		{"forbidden", common.ErrForbidden("admin only"), exitPrecondition},
		{"invalid input", common.ErrInvalidInput("version"), exitPrecondition},
		{"not found", common.ErrNotFound("plan"), exitPrecondition},
		{"lock contention", entity.NewLockContentionError("migration-guard", "held"), exitLocked},
		{"wrapped lock contention", fmt.Errorf("apply: %w", entity.NewLockContentionError("migration-guard", "held")), exitLocked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestPrintErrorAddsHint(t *testing.T) {
	var buf bytes.Buffer
	printError(&buf, entity.NewLockContentionError("migration-guard", "held"))
	assert.Contains(t, buf.String(), "error [LOCK_CONTENTION]")
	assert.Contains(t, buf.String(), "hint: another migration")

	buf.Reset()
	printError(&buf, errors.New("boom"))
	assert.Equal(t, "error: boom\n", buf.String())
}

func TestRunReportsUsageErrorsAsInvalidInput(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, exitPrecondition, run([]string{"rollback"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "INVALID_INPUT")
	assert.Contains(t, stderr.String(), `"version" not set`)

	stderr.Reset()
	assert.Equal(t, exitPrecondition, run([]string{"no-such-command"}, &stdout, &stderr))

	stdout.Reset()
	assert.Equal(t, exitOK, run([]string{"dr", "--help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "emergency-rollback")
}

func TestStepRowsFollowPlanOrder(t *testing.T) {
	rows := stepRows(
		[]entity.StepResult{{Order: 1, Name: "backup"}, {Order: 3, Name: "validate", Note: "simulated"}},
		[]entity.StepResult{{Order: 2, Name: "restore", Error: "timeout"}},
	)
	if assert.Len(t, rows, 3) {
		assert.Equal(t, "backup", rows[0][1])
		assert.Equal(t, "timeout", rows[1][5])
		assert.Equal(t, "simulated", rows[2][5])
	}
}
