// Package platform wraps the operating system calls needed to capture and
// restore file metadata that the os package does not cover.
package platform
