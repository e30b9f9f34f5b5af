// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package system

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the CLI logger. Log lines go to w (stderr when nil) so that
// stdout stays reserved for instructions and command output. verbose enables
// debug level and caller annotations.
func NewLogger(w io.Writer, verbose bool) *zap.SugaredLogger {
	if w == nil {
		w = os.Stderr
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	level := zap.InfoLevel
	opts := []zap.Option{}
	if verbose {
		level = zap.DebugLevel
		opts = append(opts, zap.AddCaller())
	} else {
		encoderCfg.CallerKey = zapcore.OmitKey
	}
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.AddSync(w), level)
	return zap.New(core, opts...).Sugar()
}

// EndpointFields returns the key/value pairs identifying a device flow target,
// for use with SugaredLogger.With or Infow/Errorw calls. clientID is left out
// when empty.
func EndpointFields(endpoint, clientID string) []interface{} {
	if clientID == "" {
		return []interface{}{"endpoint", endpoint}
	}
	return []interface{}{"endpoint", endpoint, "clientID", clientID}
}
