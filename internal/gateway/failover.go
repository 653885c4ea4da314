package gateway

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"portal/internal/common"
	"portal/internal/storage"
)

// failover wraps a store call so it runs on the primary store under the
// gateway timeout and is retried once on the fallback store when the primary
// is unreachable. The returned store is the one that answered.
func failover[In, Out any](g *Gateway, op string, call func(context.Context, storage.AccountStore, In) (Out, error)) func(context.Context, In) (Out, storage.AccountStore, error) {
	return func(ctx context.Context, in In) (Out, storage.AccountStore, error) {
		var zero Out

		pctx, cancel := context.WithTimeout(ctx, g.timeout)
		out, err := call(pctx, g.primary, in)
		cancel()
		g.observe(op, g.primary, err)
		if err == nil {
			return out, g.primary, nil
		}
		if !unreachable(ctx, err) {
			return zero, nil, err
		}
		if g.fallback == nil {
			if !errors.Is(err, common.ErrStoreUnreachable) {
				err = common.Unreachable(err)
			}
			return zero, nil, err
		}

		g.log.WithError(err).WithFields(logrus.Fields{"op": op, "fallback": g.fallback.Name()}).
			Warn("Primary account store unreachable, using fallback")
		g.rec.ObserveFailover(op)

		out, ferr := call(ctx, g.fallback, in)
		g.observe(op, g.fallback, ferr)
		if ferr != nil {
			return zero, nil, collapse(g.log, op, ferr)
		}
		return out, g.fallback, nil
	}
}

// unreachable reports whether err should send the call to the fallback. A
// deadline counts only when it is the gateway's own; a caller that gave up
// gets no retry.
func unreachable(ctx context.Context, err error) bool {
	if errors.Is(err, common.ErrStoreUnreachable) {
		return ctx.Err() == nil
	}
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

// collapse maps a fallback failure to what the caller sees. Classified
// outcomes pass through. Anything else becomes the operation's generic
// failure.
func collapse(log *logrus.Logger, op string, err error) error {
	switch common.Kind(err) {
	case common.ErrStoreUnreachable, common.ErrInternal:
		log.WithError(err).WithField("op", op).Error("Fallback account store failed")
		if op == OpLogin {
			return common.New(common.ErrInvalidCredentials, common.MsgInvalidCredentials)
		}
		return common.New(common.ErrInternal, common.MsgServerError)
	}
	return err
}
