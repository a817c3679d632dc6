package monitor

import (
	"context"
	"errors"
	"time"

	"dynpush/internal/delivery"
	"dynpush/internal/eventbus"
	"dynpush/internal/feed"
	"dynpush/internal/format"
	kit "dynpush/internal/transport"
	logx "dynpush/pkg/logx"
)

// Dispatcher renders posts and delivers them to every target.
type Dispatcher struct {
	Formatter format.Formatter
	Sender    kit.Sender
	Bus       eventbus.Bus
	Log       logx.Logger
}

// Dispatch sends posts in order. Failures are logged per post and target and
// never stop the remaining posts.
func (d *Dispatcher) Dispatch(ctx context.Context, uid int64, name string, targets []kit.ChatTarget, posts []feed.Post) {
	for i, p := range posts {
		if err := ctx.Err(); err != nil {
			d.Log.Warn("delivery interrupted, posts not sent", logx.Int64("uid", uid),
				logx.Int("undelivered", len(posts)-i), logx.String("next", p.ID), logx.Err(err))
			return
		}
		_, _ = d.dispatchOne(ctx, uid, name, targets, p)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, uid int64, name string, targets []kit.ChatTarget, p feed.Post) ([]delivery.Result, error) {
	log := d.Log.With(logx.Int64("uid", uid), logx.String("post", p.ID))
	if name == "" {
		name = p.Author
	}

	fallback := format.Fallback(name, p.Link())
	msg, err := d.Formatter.Format(ctx, p)
	switch {
	case errors.Is(err, format.ErrSuppressed):
		log.Debug("post suppressed", logx.Err(err))
		d.publish(eventbus.PostDelivered{UID: uid, PostID: p.ID, Skipped: true})
		return nil, err
	case err != nil:
		log.Warn("format failed, sending fallback", logx.String("kind", string(p.Kind)), logx.Err(err))
		msg = kit.Message{Text: fallback, Options: &kit.SendOptions{}}
		fallback = ""
	}

	res, err := delivery.Broadcast(ctx, d.Sender, targets, msg, fallback)
	if err != nil {
		log.Warn("post not delivered", logx.Err(err))
		return nil, err
	}

	ev := eventbus.PostDelivered{UID: uid, PostID: p.ID}
	for _, r := range res {
		if r.Delivered() {
			ev.OK++
			if r.Fallback {
				log.Warn("rich delivery failed, fallback sent", logx.String("target", r.Target.String()), logx.Err(r.Err))
			}
			continue
		}
		ev.Failed++
		if errors.Is(r.Err, context.Canceled) {
			continue
		}
		fields := []logx.Field{logx.String("target", r.Target.String()), logx.Err(r.Err)}
		if r.FallbackErr != nil {
			fields = append(fields, logx.String("fallback_error", r.FallbackErr.Error()))
		}
		log.Warn("delivery failed", fields...)
	}
	d.publish(ev)
	return res, nil
}

func (d *Dispatcher) publish(ev eventbus.PostDelivered) {
	if d.Bus == nil {
		return
	}
	d.Bus.Publish(eventbus.Event{Type: eventbus.TopicPost, Time: time.Now(), Data: ev})
}
