package vesting

import (
	"errors"

	"tokenvesting/core/state"
	"tokenvesting/native/custody"
)

var (
	ErrDuplicateSchedule       = errors.New("vesting: schedule already exists")
	ErrDuplicateGrant          = errors.New("vesting: grant already exists")
	ErrUnauthorized            = errors.New("vesting: unauthorized")
	ErrAccountMismatch         = errors.New("vesting: account mismatch")
	ErrClaimNotAvailableYet    = errors.New("vesting: claim not available yet")
	ErrInvalidTotalVestingTime = errors.New("vesting: invalid total vesting time")
	ErrCalculationOverflow     = errors.New("vesting: calculation overflow")
	ErrNoTokensToClaim         = errors.New("vesting: no tokens to claim")
	ErrCompanyNameTooLong      = errors.New("vesting: company name too long")
	ErrScheduleNotFound        = errors.New("vesting: schedule not found")
	ErrGrantNotFound           = errors.New("vesting: grant not found")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrDuplicateSchedule, "DuplicateSchedule"},
	{ErrDuplicateGrant, "DuplicateGrant"},
	{ErrUnauthorized, "Unauthorized"},
	{ErrAccountMismatch, "AccountMismatch"},
	{ErrClaimNotAvailableYet, "ClaimNotAvailableYet"},
	{ErrInvalidTotalVestingTime, "InvalidTotalVestingTime"},
	{ErrCalculationOverflow, "CalculationOverflow"},
	{ErrNoTokensToClaim, "NoTokensToClaim"},
	{ErrCompanyNameTooLong, "CompanyNameTooLong"},
	{ErrScheduleNotFound, "ScheduleNotFound"},
	{ErrGrantNotFound, "GrantNotFound"},
	{custody.ErrInsufficientFunds, "InsufficientFunds"},
	{custody.ErrAssetMismatch, "AssetMismatch"},
	{custody.ErrAuthorizationFailed, "AuthorizationFailed"},
	{custody.ErrAccountNotFound, "AccountNotFound"},
	{custody.ErrAssetNotFound, "AssetNotFound"},
	{custody.ErrBalanceOverflow, "BalanceOverflow"},
	{custody.ErrInvalidAsset, "InvalidAsset"},
	{custody.ErrInvalidAmount, "InvalidAmount"},
	{custody.ErrSelfTransfer, "SelfTransfer"},
	{custody.ErrAssetExists, "AssetExists"},
	{custody.ErrAccountExists, "AccountExists"},
	{state.ErrConflict, "Conflict"},
}

// Code returns the stable taxonomy name of err, or "Internal" when err is not
// part of the vesting or custody taxonomy.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "Internal"
}
