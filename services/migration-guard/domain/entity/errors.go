package entity

import (
	"fmt"

	"github.com/JAAFAR1996/ai-instgram--sub007/shared/common"
)

// NewLockContentionError reports that another holder owns the migration lock
// or a run for version is still RUNNING.
func NewLockContentionError(resource, detail string) *common.AppError {
	return common.NewAppErrorWithDetails(common.ErrCodeLockContention,
		fmt.Sprintf("%s is locked by another migration", resource), detail).
		WithContext("resource", resource)
}

// NewScriptExecutionError reports a failed migration statement
func NewScriptExecutionError(version string, statement int, cause error) *common.AppError {
	return common.NewAppErrorWithCause(common.ErrCodeScriptExecution,
		fmt.Sprintf("migration %s failed at statement %d", version, statement), cause).
		WithContext("version", version).
		WithContext("statement", statement)
}

// NewMissingBackupError reports that no usable backup exists for version
func NewMissingBackupError(version string, backupType BackupType, detail string) *common.AppError {
	return common.NewAppErrorWithDetails(common.ErrCodeMissingBackup,
		fmt.Sprintf("no usable %s backup for version %s", backupType, version), detail).
		WithContext("version", version).
		WithContext("backup_type", string(backupType))
}

// NewBackupValidationError reports a backup whose payload cannot be trusted
func NewBackupValidationError(backupID string, detail string) *common.AppError {
	return common.NewAppErrorWithDetails(common.ErrCodeBackupValidation,
		fmt.Sprintf("backup %s failed validation", backupID), detail).
		WithContext("backup_id", backupID)
}

// NewBackupProvenanceError reports a backup that cannot be proven to
// precede the migration it would roll back.
func NewBackupProvenanceError(version, backupID, detail string) *common.AppError {
	return common.NewAppErrorWithDetails(common.ErrCodeBackupProvenance,
		fmt.Sprintf("backup %s does not precede the latest run of version %s", backupID, version), detail).
		WithContext("version", version).
		WithContext("backup_id", backupID)
}

// NewStepExecutionError reports a failed critical step
func NewStepExecutionError(stepName string, order int, cause error) *common.AppError {
	return common.NewAppErrorWithCause(common.ErrCodeStepExecution,
		fmt.Sprintf("step %d (%s) failed", order, stepName), cause).
		WithContext("step", stepName).
		WithContext("order", order)
}

// NewHealthCheckError reports a probe that could not produce a result
func NewHealthCheckError(category HealthCategory, cause error) *common.AppError {
	return common.NewAppErrorWithCause(common.ErrCodeHealthCheck,
		fmt.Sprintf("%s health check could not run", category), cause).
		WithContext("category", string(category))
}
