package bridge

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sshfs/sshfs/pkg/errors"
)

// guard runs one callback and converts whatever happens inside it into a
// Status. It is the only place where operation failures are logged.
func (b *Bridge) guard(op, p string, fc *FileContext, fn func() (Status, error)) Status {
	_, status := b.guardIO(op, p, fc, func() (int, Status, error) {
		status, err := fn()
		return 0, status, err
	})
	return status
}

func (b *Bridge) guardIO(op, p string, fc *FileContext, fn func() (int, Status, error)) (n int, status Status) {
	start := time.Now()
	if b.config.DebugMode {
		b.logger.Debug("Init", zap.String("op", op), zap.String("path", p), zap.String("handle", fc.handleID()))
	}

	var err error
	defer func() {
		if r := recover(); r != nil {
			n, status = 0, StatusError
			err = errors.NewError(errors.ErrCodePanicRecovered, fmt.Sprintf("%v", r)).
				WithComponent("bridge").
				WithOperation(op).
				WithContext("path", p)
		}
		if err != nil {
			status = StatusFromError(err)
		}
		if status != StatusSuccess {
			n = 0
		}
		b.record(op, p, fc, status, err, time.Since(start), n)
	}()

	n, status, err = fn()
	return n, status
}

func (b *Bridge) record(op, p string, fc *FileContext, status Status, err error, elapsed time.Duration, n int) {
	b.metrics.RecordOperation(op, status.String(), elapsed, int64(n))

	level := zapcore.DebugLevel
	switch {
	case isPanic(err):
		level = zapcore.ErrorLevel
	case status == StatusError:
		level = zapcore.WarnLevel
	}
	if status == StatusError {
		b.metrics.RecordError(op, err)
	}

	if ce := b.logger.Check(level, op); ce != nil {
		fields := []zap.Field{
			zap.String("op", op),
			zap.String("path", p),
			zap.String("status", status.String()),
			zap.Duration("duration", elapsed),
		}
		if id := fc.handleID(); id != "" {
			fields = append(fields, zap.String("handle", id))
		}
		if n > 0 {
			fields = append(fields, zap.Int("bytes", n))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		ce.Write(fields...)
	}
}

func isPanic(err error) bool {
	e, ok := err.(*errors.SSHFSError)
	return ok && e.Code == errors.ErrCodePanicRecovered
}
