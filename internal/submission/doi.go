package submission

import (
	"regexp"

	"pubformatter/pkg/types"
)

var doiSuffixReg = regexp.MustCompile(`^[0-9]{9}$`)

// Validate returns the DOI suffix when doiNumber is exactly nine ASCII
// digits. Anything else, including surrounding whitespace, is rejected with
// types.ErrInvalidDoiFormat.
func Validate(doiNumber string) (types.DoiSuffix, error) {
	if !doiSuffixReg.MatchString(doiNumber) {
		return "", types.ErrInvalidDoiFormat
	}
	return types.DoiSuffix(doiNumber), nil
}
