package errors

// Error codes, grouped by component and ErrorType.
const (
	// IOFailure codes (100-199)
	ErrClipSourceMissing   = 100
	ErrFolderUnwritable    = 101
	ErrClipStageFailed     = 102
	ErrFolderUnreadable    = 103
	ErrClearIncomplete     = 104
	ErrOutputPromoteFailed = 105
	ErrScratchUnwritable   = 106

	// UnknownCompilation codes (200-299)
	ErrCompilationNotConfigured = 200

	// EmptyCompilation codes (300-399)
	ErrNoClipsToBuild = 300

	// BuildInProgress codes (400-499)
	ErrBuildAlreadyInProgress = 400
	ErrClearDuringBuild       = 401

	// ToolUnavailable codes (500-599)
	ErrTranscoderNotFound    = 500
	ErrTranscoderStartFailed = 501

	// ToolError codes (600-699)
	ErrTranscoderExit = 600

	// OutputMissing codes (700-799)
	ErrOutputAbsent = 700
	ErrOutputEmpty  = 701

	// Timeout codes (800-899)
	ErrTranscodeTimeout = 800

	// ValidationError codes (900-999)
	ErrConfigUnreadable     = 900
	ErrConfigMissingName    = 901
	ErrConfigMissingFolder  = 902
	ErrConfigMissingSink    = 903
	ErrConfigDuplicateName  = 904
	ErrConfigNoCompilations = 905
	ErrUnknownAction        = 906
)
