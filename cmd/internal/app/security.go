package app

import (
	"errors"
	"fmt"
	"strings"

	"cipherchat/cmd/security/keyring"
	v1 "cipherchat/shared/contracts/relay/v1"
)

// ValidateSecurityConfig fails fast on settings that would make the relay unsafe or unusable.
// The key itself is validated when it is loaded.
func ValidateSecurityConfig(cfg Config, kdf keyring.Config) error {
	var errs []error

	if err := v1.ValidateFrameSize(cfg.FrameSize); err != nil {
		errs = append(errs, fmt.Errorf("security policy: CIPHERCHAT_FRAME_SIZE=%d: %w", cfg.FrameSize, err))
	}

	if err := kdf.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("security policy: key derivation: %w", err))
	}

	switch cfg.Journal {
	case JournalOff, JournalMemory:
	case JournalBolt:
		if strings.TrimSpace(cfg.JournalPath) == "" {
			errs = append(errs, errors.New("config: CIPHERCHAT_JOURNAL=bolt requires CIPHERCHAT_JOURNAL_PATH"))
		}
	case JournalPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			errs = append(errs, errors.New("config: CIPHERCHAT_JOURNAL=postgres requires CIPHERCHAT_DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown CIPHERCHAT_JOURNAL %q", cfg.Journal))
	}

	if cfg.WSEnabled {
		if strings.TrimSpace(cfg.OpsAddr) == "" {
			errs = append(errs, errors.New("config: CIPHERCHAT_WS_ENABLED=true requires CIPHERCHAT_OPS_ADDR"))
		}
		if cfg.WSOriginRequired && len(cfg.WSAllowedOrigins) == 0 {
			errs = append(errs, errors.New("security policy: CIPHERCHAT_WS_ORIGIN_REQUIRED=true with an empty CIPHERCHAT_WS_ALLOWED_ORIGINS rejects every client"))
		}
	}

	return errors.Join(errs...)
}
