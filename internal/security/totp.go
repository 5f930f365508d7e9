package security

import (
	"strings"

	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret provisions a new two-factor secret for a user.
// The returned key carries both the shared secret and the otpauth URL
// used to enrol an authenticator app.
func GenerateTOTPSecret(issuer, accountName string) (secret, url string, err error) {
	key, errGenerate := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
	})
	if errGenerate != nil {
		return "", "", errGenerate
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP checks a one-time code against the stored secret.
func ValidateTOTP(code, secret string) bool {
	code = strings.TrimSpace(code)
	if code == "" || secret == "" {
		return false
	}
	return totp.Validate(code, secret)
}
