package ldap

import (
	"context"
	"errors"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// Subsystem is the tflog subsystem used by this package.
const Subsystem = "ldap"

// LevelEnvVar sets the log level of the ldap subsystem.
const LevelEnvVar = "ADAUTH_LOG_LDAP"

// WithLogging returns ctx with the ldap subsystem logger initialised.
// It is a no-op when ctx carries no root logger.
func WithLogging(ctx context.Context) context.Context {
	ctx = tflog.NewSubsystem(ctx, Subsystem, tflog.WithLevelFromEnv(LevelEnvVar))
	return tflog.SubsystemMaskFieldValuesWithFieldKeys(ctx, Subsystem, sensitiveKeys...)
}

// LDAPErrorFields adds LDAP-specific error information to fields.
func LDAPErrorFields(err error, fields map[string]any) map[string]any {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["error"] = err.Error()

	var resultErr *ldap.Error
	if errors.As(err, &resultErr) {
		fields["ldap_result_code"] = resultErr.ResultCode
		if resultErr.MatchedDN != "" {
			fields["ldap_matched_dn"] = resultErr.MatchedDN
		}
		if resultErr.Err != nil {
			fields["ldap_diagnostic_message"] = resultErr.Err.Error()
		}
	}

	if category := GetErrorCategory(err); category != ErrorCategoryUnknown {
		fields["error_category"] = string(category)
	}

	return fields
}

// LogConnectionEvent logs connection-related events.
func LogConnectionEvent(ctx context.Context, event string, fields map[string]any) {
	if fields == nil {
		fields = make(map[string]any)
	}

	fields["event"] = event

	switch event {
	case "connection_established":
		tflog.SubsystemDebug(ctx, Subsystem, "Connection event", fields)
	case "connection_failed", "connection_retry":
		tflog.SubsystemWarn(ctx, Subsystem, "Connection event", fields)
	default:
		tflog.SubsystemTrace(ctx, Subsystem, "Connection event", fields)
	}
}

var sensitiveKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"credential",
	"credentials",
}
