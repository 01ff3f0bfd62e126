package constants

import "time"

// Default values for system operations
const (
	DefaultTenant       = "default"
	DefaultPort         = "3001"
	DefaultSLASchedule  = "@every 1m"
	DefaultNATSPrefix   = "approvals"
	DefaultServiceName  = "approvals"
	SystemUserName      = "system"
	DefaultHistoryLimit = 200
)

// Default durations
const (
	DefaultOutboxInterval     = 500 * time.Millisecond
	DefaultValidationDebounce = 350 * time.Millisecond
	DefaultShutdownTimeout    = 10 * time.Second
)
