// Package common provides shared constants, types, utilities, and errors
// used throughout the Tunnel Manager application.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: Application-wide constants like timeouts and file names
//   - Errors: Sentinel errors for consistent error handling across packages
//   - Logger: Structured logging with multiple output destinations
//   - Utils: Common utility functions for file and directory handling
//
// # Usage
//
// Import the package to access shared functionality:
//
//	import "github.com/adlara/tunnel-manager/common"
//
//	// Use constants
//	timeout := common.ConnectTimeout
//
//	// Use logger
//	common.LogInfo("Starting tunnel for port %d", port)
//
//	// Check errors
//	if errors.Is(err, common.ErrNotInstalled) {
//	    // Handle missing tool
//	}
package common
