// Copyright 2020-2021 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package log is a small leveled event logger for decoder diagnostics.
//
// A fatal decoder error is returned from telemetry.Open and fails the whole
// file; tracks decoded before it are not kept. Everything short of that —
// an unknown model, a box skipped during
// demuxing, a truncated trailer recovered from — is reported here instead
// of returned, so callers can inspect it without every caller having to
// thread an error collector through every decode call.
package log

// API inspired by zerolog https://github.com/rs/zerolog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging constants, matching ffmpeg.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMillisecond is a timestamp in milliseconds since the Unix epoch.
type UnixMillisecond uint64

// Event defines log event.
type Event struct {
	level   Level
	time    UnixMillisecond // Timestamp.
	src     string          // Source, e.g. the decoder name.
	track   string          // Source track id, empty for file-level events.

	logger *Logger
}

// Log defines a completed log entry.
type Log struct {
	Level Level
	Time  UnixMillisecond
	Msg   string
	Src   string
	Track string
}

// Src sets the event source, conventionally a decoder name ("gpmf", "sony").
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Track sets the event's source track id.
func (e *Event) Track(trackID string) *Event {
	e.track = trackID
	return e
}

// Time overrides the event time, mainly for tests.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMillisecond(t.UnixNano() / int64(time.Millisecond))
	return e
}

// Msg sends the *Event with msg added as the message field.
func (e *Event) Msg(msg string) {
	if e.logger == nil {
		return
	}
	log := Log{
		Time:  e.time,
		Level: e.level,
		Msg:   msg,
		Src:   e.src,
		Track: e.track,
	}
	e.logger.feed <- log
}

// Msgf sends the event with formatted msg added as the message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

// Feed is a read-only feed of logs.
type Feed <-chan Log
type logFeed chan Log

// Logger fans a feed of Log events out to any number of subscribers.
//
// A nil *Logger is a valid, silent sink: Error()/Warn()/Info()/Debug() all
// return an Event whose Msg is a no-op, so decoders can unconditionally log
// without callers being forced to construct one — and a logger with nobody
// subscribed must never block a decode.
type Logger struct {
	feed  logFeed      // feed of logs.
	sub   chan logFeed // subscribe requests.
	unsub chan logFeed // unsubscribe requests.

	wg sync.WaitGroup
}

// NewLogger returns a new, unstarted Logger.
func NewLogger() *Logger {
	return &Logger{
		feed:  make(logFeed),
		sub:   make(chan logFeed),
		unsub: make(chan logFeed),
	}
}

// Start the logger's fan-out goroutine. Returns when ctx is canceled.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		subs := map[logFeed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case msg := <-l.feed:
				for ch := range subs {
					ch <- msg
				}
			}
		}
	}()
}

// Wait blocks until the logger's goroutine, started by Start, has returned.
func (l *Logger) Wait() {
	l.wg.Wait()
}

// CancelFunc cancels a log feed subscription.
type CancelFunc func()

// Subscribe returns a new chan with log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Log, CancelFunc) {
	feed := make(logFeed)
	l.sub <- feed

	cancel := func() {
		l.unSubscribe(feed)
	}
	return feed, cancel
}

func (l *Logger) unSubscribe(feed logFeed) {
	// Read feed until unsub request is accepted.
	for {
		select {
		case l.unsub <- feed:
			return
		case <-feed:
		}
	}
}

// LogToStdout prints the log feed to Stdout until ctx is canceled.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case log := <-feed:
			printLog(log)
		case <-ctx.Done():
			return
		}
	}
}

func printLog(log Log) {
	var output string

	switch log.Level {
	case LevelError:
		output += "[ERROR] "
	case LevelWarning:
		output += "[WARNING] "
	case LevelInfo:
		output += "[INFO] "
	case LevelDebug:
		output += "[DEBUG] "
	}

	if log.Src != "" {
		output += log.Src + ": "
	}
	if log.Track != "" {
		output += "track " + log.Track + ": "
	}

	output += log.Msg
	fmt.Println(output)
}

func newEvent(l *Logger, level Level) *Event {
	return &Event{
		level:  level,
		time:   UnixMillisecond(time.Now().UnixNano() / int64(time.Millisecond)),
		logger: l,
	}
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Error() *Event { return newEvent(l, LevelError) }

// Warn starts a new message with warn level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Warn() *Event { return newEvent(l, LevelWarning) }

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Info() *Event { return newEvent(l, LevelInfo) }

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send the event.
func (l *Logger) Debug() *Event { return newEvent(l, LevelDebug) }
