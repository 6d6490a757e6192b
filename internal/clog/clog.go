// Package clog adapts a github.com/charmbracelet/log.Logger to the
// github.com/ausocean/utils/logging.Logger interface the pcm backends
// expect, so the CLI tools can use charmbracelet's styled console
// output while still satisfying the library's logging contract.
package clog

import charmlog "github.com/charmbracelet/log"

// Adapter forwards each ausocean/utils/logging.Logger call to the
// wrapped charmbracelet logger explicitly, rather than embedding it,
// since charmbracelet's methods take msg interface{} while the
// logging.Logger contract this adapts to takes msg string.
type Adapter struct {
	l *charmlog.Logger
}

// New builds an Adapter around l.
func New(l *charmlog.Logger) Adapter { return Adapter{l} }

func (a Adapter) Debug(msg string, keyvals ...interface{})   { a.l.Debug(msg, keyvals...) }
func (a Adapter) Info(msg string, keyvals ...interface{})    { a.l.Info(msg, keyvals...) }
func (a Adapter) Warning(msg string, keyvals ...interface{}) { a.l.Warn(msg, keyvals...) }
func (a Adapter) Error(msg string, keyvals ...interface{})   { a.l.Error(msg, keyvals...) }
func (a Adapter) Fatal(msg string, keyvals ...interface{})   { a.l.Fatal(msg, keyvals...) }
