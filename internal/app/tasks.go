package app

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sweeney/sensor-node/internal/clock"
	"github.com/sweeney/sensor-node/internal/input"
	"github.com/sweeney/sensor-node/internal/mqtt"
)

// pollButton feeds queued interrupt levels, then the current level, through
// the debouncer every tick. Without a reader the current level is the last
// edge seen, so a single edge still commits once the window has passed.
func (n *Node) pollButton(now clock.Instant) error {
	if n.edges != nil {
		n.edges.Drain(func(level bool) {
			n.lastLevel = level
			n.onButton(n.button.Update(now, level))
		})
		if n.metrics != nil {
			n.metrics.SetEdgesDropped(n.edges.Dropped())
		}
	}
	if n.reader == nil {
		n.onButton(n.button.Update(now, n.lastLevel))
		return nil
	}
	level, err := n.reader.Read()
	if err != nil {
		return err
	}
	n.onButton(n.button.Update(now, level))
	return nil
}

// onButton maps presses to actions: a short press samples every sensor and
// broadcasts at once, a long press restarts the link.
func (n *Node) onButton(ev input.ButtonEvent) {
	if !ev.Any() {
		return
	}
	log := n.log.WithField("edge", ev.Edge)

	if ev.Short {
		log.Info("short press: sampling now")
		if n.metrics != nil {
			n.metrics.ButtonPress("short")
		}
		if err := n.sched.Enable(n.tasks.sampleNow); err != nil {
			log.WithError(err).Warn("enable sample-now")
		}
	}
	if ev.HeldLong {
		log.WithField("link", n.link.State()).Info("long press: restarting link")
		if n.metrics != nil {
			n.metrics.ButtonPress("long")
		}
		n.link.Start()
	}
}

func (n *Node) tickLink(clock.Instant) error {
	n.link.Tick()
	return nil
}

// sampleNow is a one-shot task: the scheduler disables it after each run.
func (n *Node) sampleNow(now clock.Instant) error {
	err := n.sampler.PollAll(now)
	n.refresh()
	if berr := n.broadcast(now); err == nil {
		err = berr
	}
	return err
}

func (n *Node) broadcast(clock.Instant) error {
	frame, err := n.frame()
	if err != nil {
		return err
	}
	sent := n.pub.Broadcast(frame)
	if n.metrics != nil {
		n.metrics.FrameBroadcast()
	}
	n.log.WithFields(logrus.Fields{"sent": sent, "subscribers": n.pub.Count()}).Trace("broadcast")

	if n.uplink == nil || !n.link.IsConnected() {
		return nil
	}
	return n.uplink.PublishFrame(frame)
}

func (n *Node) heartbeat(clock.Instant) error {
	if info := n.network(); info != nil {
		n.tracker.SetNetwork(info)
	}
	snap := n.tracker.Snapshot()
	n.log.WithFields(logrus.Fields{
		"uptime":      snap.Uptime().Truncate(time.Second),
		"link":        snap.Link,
		"subscribers": snap.SubscriberCount,
		"history":     len(snap.History),
	}).Info("heartbeat")

	if !n.link.IsConnected() {
		return nil
	}
	return n.uplink.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "HEARTBEAT",
		RawPayload: n.statusPayload(snap, "HEARTBEAT", ""),
	})
}
