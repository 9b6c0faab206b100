package core

import (
	"context"
	"time"

	"github.com/rileyhilliard/dockwatch/internal/docker"
)

// Result is the outcome of one command.
type Result struct {
	// Op names the command, e.g. "stop", "rmi", "run".
	Op string `json:"op"`
	// Ref is the resource the command was aimed at.
	Ref string `json:"ref"`
	// ID is the created container for "run".
	ID  string    `json:"id,omitempty"`
	Err error     `json:"-"`
	At  time.Time `json:"at"`
}

// OK reports whether the command succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Notifications delivers every command result. The channel is shared by
// all readers; results are dropped when nobody keeps up.
func (c *Core) Notifications() <-chan Result {
	return c.notify
}

// PerformContainerAction runs a lifecycle action on a container.
func (c *Core) PerformContainerAction(ctx context.Context, ref string, action docker.Action) <-chan Result {
	id := ref
	if info, ok := c.registry.Container(ref); ok {
		id = info.ID
	}
	return c.dispatch(ctx, string(action), ref, func(ctx context.Context, client docker.Client) (string, error) {
		return "", client.ContainerAction(ctx, id, action)
	})
}

// RemoveImage deletes an image unless a known container uses it.
func (c *Core) RemoveImage(ctx context.Context, ref string) <-chan Result {
	return c.dispatch(ctx, "rmi", ref, func(ctx context.Context, client docker.Client) (string, error) {
		return "", client.RemoveImage(ctx, ref)
	})
}

// RemoveNetwork deletes a network unless a known container is attached.
func (c *Core) RemoveNetwork(ctx context.Context, ref string) <-chan Result {
	return c.dispatch(ctx, "network rm", ref, func(ctx context.Context, client docker.Client) (string, error) {
		return "", client.RemoveNetwork(ctx, ref)
	})
}

// RemoveVolume deletes a volume unless a known container mounts it.
func (c *Core) RemoveVolume(ctx context.Context, name string) <-chan Result {
	return c.dispatch(ctx, "volume rm", name, func(ctx context.Context, client docker.Client) (string, error) {
		return "", client.RemoveVolume(ctx, name)
	})
}

// CreateContainer creates and starts a container from spec.
func (c *Core) CreateContainer(ctx context.Context, spec docker.CreateSpec) <-chan Result {
	return c.dispatch(ctx, "run", spec.Image, func(ctx context.Context, client docker.Client) (string, error) {
		return client.CreateContainer(ctx, spec)
	})
}

// dispatch runs fn against the active transport in the background. On
// success a forced refresh completes before the result is delivered, so
// readers of the result see the new state in the query interface.
func (c *Core) dispatch(ctx context.Context, op, ref string, fn func(context.Context, docker.Client) (string, error)) <-chan Result {
	out := make(chan Result, 1)

	client, err := c.target.Client()
	if err != nil {
		c.deliver(out, Result{Op: op, Ref: ref, Err: err, At: time.Now()})
		return out
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()

		id, err := fn(runCtx, client)
		res := Result{Op: op, Ref: ref, ID: id, Err: err, At: time.Now()}
		if err != nil {
			c.log.Warn("%s %s failed: %v", op, ref, err)
		} else {
			c.log.Info("%s %s done", op, ref)
			if rerr := c.target.Poller().Refresh(runCtx); rerr != nil {
				c.log.Debug("refresh after %s: %v", op, rerr)
			}
		}
		c.deliver(out, res)
	}()
	return out
}

func (c *Core) deliver(out chan Result, res Result) {
	out <- res
	close(out)
	select {
	case c.notify <- res:
	default:
		c.log.Debug("notification for %s %s dropped", res.Op, res.Ref)
	}
}
