// ABOUTME: Minimal fake interviewer agent for E2E testing — polls the command channel and reports progress.
// ABOUTME: Usage: fake-interviewer [-channel path] [-interval 500ms] [-duration 2s]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/voxhire/orchestrator/internal/channel"
)

func main() {
	channelPath := flag.String("channel", os.Getenv("VOXHIRE_CHANNEL_PATH"), "command channel database path")
	interval := flag.Duration("interval", 500*time.Millisecond, "poll interval")
	duration := flag.Duration("duration", 2*time.Second, "simulated interview duration")
	failWith := flag.String("fail", "", "fail sessions with this detail instead of completing")
	flag.Parse()

	if *channelPath == "" {
		log.Fatal("no channel path: set -channel or VOXHIRE_CHANNEL_PATH")
	}

	if err := run(*channelPath, *interval, *duration, *failWith); err != nil {
		log.Fatal(err)
	}
}

func run(channelPath string, interval, duration time.Duration, failWith string) error {
	ch, err := channel.Open(channelPath)
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	fmt.Fprintf(os.Stderr, "fake interviewer polling %s every %v\n", channelPath, interval)

	var currentSession string
	var sessionEndsAt time.Time

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cmds, err := ch.Poll(ctx)
		if err != nil {
			log.Printf("poll error: %v", err)
			continue
		}

		for _, cmd := range cmds {
			switch cmd.Kind {
			case channel.KindAssignSession:
				if err := ch.Acknowledge(ctx, cmd.ID); err != nil {
					log.Printf("ack error: %v", err)
					continue
				}
				if currentSession != "" {
					log.Printf("already interviewing %s, ignoring assignment %s", currentSession, cmd.SessionID)
					continue
				}
				currentSession = cmd.SessionID
				sessionEndsAt = time.Now().Add(duration)

				room := ""
				if cmd.Payload != nil {
					room = cmd.Payload.RoomName
				}
				log.Printf("starting interview for session %s in room %s", cmd.SessionID, room)
				report(ctx, ch, cmd.SessionID, channel.ReportStarted, "")

			case channel.KindEndSession:
				if err := ch.Acknowledge(ctx, cmd.ID); err != nil {
					log.Printf("ack error: %v", err)
					continue
				}
				if cmd.SessionID != currentSession {
					continue
				}
				log.Printf("ending session %s on request", cmd.SessionID)
				report(ctx, ch, cmd.SessionID, channel.ReportCompleted, "ended on request")
				currentSession = ""

			case channel.KindShutdown:
				if err := ch.Acknowledge(ctx, cmd.ID); err != nil {
					log.Printf("ack error: %v", err)
				}
				log.Printf("shutdown requested")
				return nil
			}
		}

		// Simulated interview progress for the active session.
		if currentSession != "" {
			if time.Now().After(sessionEndsAt) {
				if failWith != "" {
					log.Printf("failing session %s: %s", currentSession, failWith)
					report(ctx, ch, currentSession, channel.ReportFailed, failWith)
				} else {
					log.Printf("completing session %s", currentSession)
					report(ctx, ch, currentSession, channel.ReportCompleted, "all questions answered")
				}
				currentSession = ""
			} else {
				report(ctx, ch, currentSession, channel.ReportInProgress, "interview running")
			}
		}
	}
}

func report(ctx context.Context, ch *channel.Channel, sessionID string, state channel.ReportState, detail string) {
	if _, err := ch.Report(ctx, channel.StatusReport{
		SessionID: sessionID,
		State:     state,
		Detail:    detail,
	}); err != nil {
		log.Printf("report error: %v", err)
	}
}
