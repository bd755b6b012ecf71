package connection

import "go.uber.org/zap"

// logger is a thin rename of *zap.SugaredLogger so call sites read
// connection-domain method names without importing zap everywhere.
type logger zap.SugaredLogger

func (l *logger) sugared() *zap.SugaredLogger { return (*zap.SugaredLogger)(l) }

func (l *logger) Infow(msg string, kv ...any)  { l.sugared().Infow(msg, kv...) }
func (l *logger) Warnw(msg string, kv ...any)  { l.sugared().Warnw(msg, kv...) }
func (l *logger) Errorw(msg string, kv ...any) { l.sugared().Errorw(msg, kv...) }
func (l *logger) Debugw(msg string, kv ...any) { l.sugared().Debugw(msg, kv...) }
