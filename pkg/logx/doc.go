// Package logx provides a small structured logging facade over zerolog.
//
// It supports console and file sinks, runtime reconfiguration via
// Service.Apply, and cheap fixed-field derivation via Logger.With.
// The zero Logger value is a safe no-op, which keeps constructors of
// dependent services simple.
package logx
