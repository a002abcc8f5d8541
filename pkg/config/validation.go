package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/marmos91/shadowfs/internal/telemetry"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for errors.
//
// Struct tags cover field-level rules; rules spanning several sections are
// checked here. Validate does not modify cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fieldMessage(fe))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if cfg.Telemetry.Enabled && cfg.Telemetry.Endpoint == "" {
		return errors.New("telemetry: endpoint is required when telemetry is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled && cfg.Telemetry.Profiling.Endpoint == "" {
		return errors.New("telemetry.profiling: endpoint is required when profiling is enabled")
	}
	if cfg.Telemetry.Profiling.Enabled {
		known := telemetry.ProfileTypeNames()
		for _, pt := range cfg.Telemetry.Profiling.ProfileTypes {
			if !slices.Contains(known, pt) {
				return fmt.Errorf("telemetry.profiling: unknown profile type %q (valid: %s)", pt, strings.Join(known, ", "))
			}
		}
	}

	return validateShadow(&cfg.Shadow)
}

func validateShadow(cfg *ShadowConfig) error {
	local, remote := filepath.Clean(cfg.LocalRoot), filepath.Clean(cfg.RemoteRoot)
	if nested(local, remote) || nested(remote, local) {
		return fmt.Errorf("shadow: local_root %q and remote_root %q must not contain each other", cfg.LocalRoot, cfg.RemoteRoot)
	}
	state := filepath.Clean(cfg.StateDir)
	if nested(local, state) || nested(remote, state) {
		return fmt.Errorf("shadow: state_dir %q must be outside both roots", cfg.StateDir)
	}
	if cfg.ChunkSize > 0 && cfg.ChunkSize&(cfg.ChunkSize-1) != 0 {
		return fmt.Errorf("shadow: chunk_size %s must be a power of two", cfg.ChunkSize)
	}
	return nil
}

// nested reports whether p is parent or below it.
func nested(parent, p string) bool {
	rel, err := filepath.Rel(parent, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "nefield":
		return fmt.Sprintf("%s must differ from %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation (param %q, value %v)", field, fe.Tag(), fe.Param(), fe.Value())
	}
}
