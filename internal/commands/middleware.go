package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"rankbot/internal/ratelimit"
	logx "rankbot/pkg/logx"
	"rankbot/pkg/tgui"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.Int64("chat_id", req.Chat.ChatID),
				logx.Int("thread_id", req.Chat.ThreadID),
				logx.Int64("from_id", req.FromID),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWRateLimit rejects the request when the actor or group budget is spent.
// Rejections are answered and never reach the handler.
func MWRateLimit(g *ratelimit.Guard) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if g == nil {
				return next(ctx, req)
			}
			group := ""
			if req.Msg.IsGroup {
				group = strconv.FormatInt(req.Msg.ChatID, 10)
			}
			v := g.Check(strconv.FormatInt(req.FromID, 10), group)
			if v.Allowed {
				return next(ctx, req)
			}
			req.Logger.Debug("command rate limited",
				logx.String("scope", string(v.Scope)),
				logx.Duration("retry_after", v.RetryAfter),
			)
			return req.Reply(ctx, "⏳ "+tgui.Esc(v.Message()).String())
		}
	}
}
