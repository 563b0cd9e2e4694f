package errors

// ErrorCode is a string representation of a specific error condition.  Codes
// are "<MODULE>_<NNN>".
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal        ErrorCode = "COMMON_001"
	ErrCodeBadRequest      ErrorCode = "COMMON_002"
	ErrCodeNotFound        ErrorCode = "COMMON_005"
	ErrCodeValidation      ErrorCode = "COMMON_010"
	ErrCodeSerialization   ErrorCode = "COMMON_011"
	ErrCodeDatabaseError   ErrorCode = "COMMON_012"
	ErrCodeCacheError      ErrorCode = "COMMON_013"
	ErrCodeExternalService ErrorCode = "COMMON_014"
)

// Aliases
const (
	CodeInternal     = ErrCodeInternal
	CodeInvalidParam = ErrCodeBadRequest
	CodeUnknown      = ErrorCode("UNKNOWN")
	CodeStorageError = ErrCodeExternalService
)

// Molecule Module Error Codes
const (
	ErrCodeMoleculeInvalidSMILES       ErrorCode = "MOL_001"
	ErrCodeMoleculeInvalidFormat       ErrorCode = "MOL_003"
	ErrCodeFingerprintGenerationFailed ErrorCode = "MOL_007"
	ErrCodeFingerprintTypeUnsupported  ErrorCode = "MOL_008"
	ErrCodeSimilaritySearchFailed      ErrorCode = "MOL_009"
	ErrCodeFingerprintDecodeFailed     ErrorCode = "MOL_010"
	ErrCodeSubstructureSearchFailed    ErrorCode = "MOL_012"
)

// Search Module Error Codes
const (
	ErrCodeDegradedInput      ErrorCode = "SRCH_001"
	ErrCodeQueryFileError     ErrorCode = "SRCH_002"
	ErrCodePropertyQueryError ErrorCode = "SRCH_003"
	ErrCodeOutputError        ErrorCode = "SRCH_004"
	ErrCodePublishFailed      ErrorCode = "SRCH_005"
)

// ExitCode maps an error to a process exit status: 2 for invalid arguments,
// 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch GetCode(err) {
	case CodeInvalidParam, ErrCodeValidation, ErrCodeFingerprintTypeUnsupported:
		return 2
	default:
		return 1
	}
}
