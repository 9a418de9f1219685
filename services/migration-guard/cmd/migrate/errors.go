package main

import (
	"fmt"
	"io"

	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// Process exit codes
const (
	exitOK           = 0
	exitFailure      = 1
	exitPrecondition = 2
	exitLocked       = 3
)

// exitCode maps an error onto the process exit code. Precondition failures
// the operator can fix exit 2 and lock contention exits 3.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch common.CodeOf(err) {
	case common.ErrCodeValidationFailed,
		common.ErrCodeMissingBackup,
		common.ErrCodeBackupValidation,
		common.ErrCodeBackupProvenance,
		common.ErrCodeForbidden,
		common.ErrCodeInvalidInput,
		common.ErrCodeNotFound:
		return exitPrecondition
	case common.ErrCodeLockContention:
		return exitLocked
	default:
		return exitFailure
	}
}

var remediations = map[common.ErrorCode]string{
	common.ErrCodeValidationFailed:   "fix the reported validation errors and retry",
	common.ErrCodeMissingBackup:      "create a backup with `migrate backup create` or pass --backup",
	common.ErrCodeBackupValidation:   "the backup payload is corrupt; pick another backup with --backup",
	common.ErrCodeBackupProvenance:   "the newest backup postdates the failed run; restore an older backup with `migrate rollback --backup`",
	common.ErrCodeForbidden:          "rerun with --admin as an authorised operator",
	common.ErrCodeInvalidInput:       "check the command flags with --help",
	common.ErrCodeNotFound:           "list existing resources with the matching list command",
	common.ErrCodeLockContention:     "another migration, rollback or recovery is running; wait for it to finish",
	common.ErrCodeScriptExecution:    "inspect the failed statement, then fix the migration or run `migrate rollback`",
	common.ErrCodeStepExecution:      "review the failed steps in the execution report",
	common.ErrCodeInvalidState:       "check the current state with `migrate status`",
	common.ErrCodeDatabaseQuery:      "check database connectivity and permissions",
	common.ErrCodeMissingRequired:    "set the missing configuration value",
	common.ErrCodeHealthCheck:        "run `migrate health` for the failing checks and their remediation",
	common.ErrCodeServiceUnavailable: "check that the lock provider and database are reachable",
}

// printError writes the error kind, the message and a one-line remediation hint
func printError(w io.Writer, err error) {
	if common.GetAppError(err) == nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	code := common.CodeOf(err)
	fmt.Fprintf(w, "error [%s]: %v\n", code, err)
	if hint, ok := remediations[code]; ok {
		fmt.Fprintf(w, "hint: %s\n", hint)
	}
}

// usageError marks errors cobra raises before a command runs, such as an
// unknown flag or a missing required flag
func usageError(err error) error {
	if err == nil || common.GetAppError(err) != nil {
		return err
	}
	return common.NewAppErrorWithCause(common.ErrCodeInvalidInput, "invalid command line", err)
}
