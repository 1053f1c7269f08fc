package logging

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestGetTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", &buf).Get("scheduler")

	log.WithField("task", "broadcast").Debug("dispatched")

	out := buf.String()
	assert.Contains(t, out, "component=scheduler")
	assert.Contains(t, out, "task=broadcast")
	assert.Contains(t, out, "msg=dispatched")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", &buf).Get("web")

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	l := New("chatty", &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, l.Level())
}

func TestSharedOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", &buf)
	l.Get("a").Info("one")
	l.Get("b").Info("two")

	assert.Contains(t, buf.String(), "component=a")
	assert.Contains(t, buf.String(), "component=b")
}

func TestDiscard(t *testing.T) {
	assert.NotPanics(t, func() { Discard().Error("nothing") })
}
