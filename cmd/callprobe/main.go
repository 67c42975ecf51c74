// callprobe is a headless call client for exercising the signaling relay:
// it joins a room and either rings the first peer it sees or answers the
// first incoming offer. Useful for smoke-testing a deployment without a
// browser on either end.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/call"
	"github.com/wellport/signaling/internal/models"
)

var (
	flagServer   string
	flagRoom     string
	flagUserID   string
	flagName     string
	flagRole     string
	flagInitiate bool
	flagSTUN     []string
	flagTimeout  time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "callprobe",
		Short: "Headless signaling probe: places or answers one call",
		RunE:  run,
	}

	rootCmd.Flags().StringVar(&flagServer, "server", "ws://localhost:8080", "relay base URL")
	rootCmd.Flags().StringVar(&flagRoom, "room", "", "room code or id to join")
	rootCmd.Flags().StringVar(&flagUserID, "user", "probe", "portal user id")
	rootCmd.Flags().StringVar(&flagName, "name", "Probe", "display name")
	rootCmd.Flags().StringVar(&flagRole, "role", "", "participant role (e.g. doctor)")
	rootCmd.Flags().BoolVar(&flagInitiate, "initiate", false, "ring the first peer instead of answering")
	rootCmd.Flags().StringSliceVar(&flagSTUN, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	rootCmd.Flags().DurationVar(&flagTimeout, "timeout", 2*time.Minute, "give up after this long")
	rootCmd.MarkFlagRequired("room")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	url := fmt.Sprintf("%s/ws/signal/%s?userId=%s&displayName=%s&role=%s",
		flagServer, flagRoom, flagUserID, flagName, flagRole)

	client := call.NewClient(url, logger)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to reach relay: %w", err)
	}
	defer client.Close()

	if err := client.JoinRoom(flagRoom, flagUserID, flagName, flagRole); err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	media, err := call.NewStaticMediaSource()
	if err != nil {
		return fmt.Errorf("failed to prepare media: %w", err)
	}

	opts := call.Options{
		STUNServers: flagSTUN,
		OnStatus:    func(s string) { logger.Info("status", zap.String("text", s)) },
		OnDuration: func(d time.Duration) {
			logger.Info("in call", zap.Duration("elapsed", d.Truncate(time.Second)))
		},
	}

	peers := make(chan string, 1)
	offers := make(chan *models.SignalEnvelope, 1)
	ended := make(chan string, 1)
	opts.OnEnded = func(reason string) {
		select {
		case ended <- reason:
		default:
		}
	}

	unsubscribe := client.Subscribe(func(env *models.SignalEnvelope) {
		switch env.Type {
		case models.EventRoomUsers:
			var payload models.RoomUsersPayload
			if json.Unmarshal(env.Payload, &payload) == nil && len(payload.Users) > 0 {
				select {
				case peers <- payload.Users[0].ConnectionID:
				default:
				}
			}
		case models.EventUserConnected:
			var payload models.PresencePayload
			if json.Unmarshal(env.Payload, &payload) == nil {
				select {
				case peers <- payload.ConnectionID:
				default:
				}
			}
		case models.EventIncomingCall:
			logger.Info("ringing", zap.String("from", env.From), zap.String("call_id", env.CallID))
		case models.EventOffer:
			select {
			case offers <- env:
			default:
			}
		}
	})
	defer unsubscribe()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var session *call.Session
	if flagInitiate {
		logger.Info("waiting for a peer to ring")
		select {
		case peerID := <-peers:
			session, err = call.Dial(client, media, peerID, opts)
		case <-interrupt:
			return nil
		case <-time.After(flagTimeout):
			return fmt.Errorf("no peer joined within %s", flagTimeout)
		}
	} else {
		logger.Info("waiting for an offer")
		select {
		case offer := <-offers:
			session, err = call.Accept(client, media, offer, opts)
		case <-interrupt:
			return nil
		case <-time.After(flagTimeout):
			return fmt.Errorf("no offer received within %s", flagTimeout)
		}
	}
	if err != nil {
		return err
	}

	select {
	case reason := <-ended:
		logger.Info("call over", zap.String("reason", reason))
	case <-interrupt:
		session.Hangup()
	case <-time.After(flagTimeout):
		session.Hangup()
	}
	return nil
}
