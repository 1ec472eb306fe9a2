package crypto

import (
	"errors"
	"fmt"
)

// Sentinel errors for the crypto engine's setup failure contracts (spec
// §4.1 "Failure contracts"). Wrapped with context via fmt.Errorf("...: %w").
var (
	// ErrKeyslotMissing indicates a cipher or CMAC was requested from a
	// keyslot with no normal key. On a correctly ordered install flow this
	// should never happen; callers that hit it have skipped a setup step.
	ErrKeyslotMissing = errors.New("crypto: keyslot has no normal key")

	// ErrCorruptBootrom indicates the bootROM image failed the length or
	// SHA-256 checks.
	ErrCorruptBootrom = errors.New("crypto: corrupt or wrong-revision bootrom")

	// ErrOTPLength indicates an OTP blob was not exactly 0x100 bytes.
	ErrOTPLength = errors.New("crypto: otp must be exactly 0x100 bytes")

	// ErrTicketLength indicates a ticket shorter than 0x2AC bytes.
	ErrTicketLength = errors.New("crypto: ticket too short")

	// ErrBadMovableSed indicates a movable.sed of unsupported length.
	ErrBadMovableSed = errors.New("crypto: movable.sed has unexpected length")
)

func wrapKeyslot(s Keyslot, err error) error {
	return fmt.Errorf("keyslot 0x%02X: %w", byte(s), err)
}
