package call

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/wellport/signaling/internal/models"
)

// State is the lifecycle position of a call session.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateNegotiatingLocal
	StateAwaitingRemoteOffer
	StateNegotiatingRemote
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring-media"
	case StateNegotiatingLocal:
		return "negotiating-local"
	case StateAwaitingRemoteOffer:
		return "awaiting-remote-offer"
	case StateNegotiatingRemote:
		return "negotiating-remote"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Role distinguishes who sent the offer.
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleResponder Role = "responder"
)

const defaultNegotiationTimeout = 30 * time.Second

// Options configures a session. All callbacks are optional.
type Options struct {
	STUNServers        []string
	NegotiationTimeout time.Duration
	OnStatus           func(status string)
	OnDuration         func(elapsed time.Duration)
	OnEnded            func(reason string)
	Logger             *zap.Logger
}

// Session drives one peer connection through negotiation and teardown. A
// session handles exactly one call attempt; after it ends a new call means
// a new session. Transitions are serialized by the session mutex; every
// exit path converges on the same teardown routine, which runs once.
type Session struct {
	signaler Signaler
	media    MediaSource
	opts     Options
	log      *zap.Logger

	callID string
	peerID string
	role   Role

	mu             sync.Mutex
	state          State
	pc             *webrtc.PeerConnection
	pending        []webrtc.ICECandidateInit
	remoteSet      bool
	gotRemoteTrack bool
	pcConnected    bool
	startedAt      time.Time
	negotiation    *time.Timer
	tickerStop     chan struct{}
	ended          bool
	unsubscribe    func()
}

// Dial starts an outbound call to the peer at targetID: acquires media,
// creates the peer connection, sends the ring notification and the offer.
func Dial(signaler Signaler, media MediaSource, targetID string, opts Options) (*Session, error) {
	s := newSession(signaler, media, RoleInitiator, uuid.New().String(), targetID, opts)

	s.status("Connecting…")
	if err := s.setup(); err != nil {
		return nil, err
	}

	// Ring the target; delivered as incoming-call.
	if err := s.signaler.Send(&models.SignalEnvelope{
		Type:   models.EventCallUser,
		To:     s.peerID,
		CallID: s.callID,
	}); err != nil {
		return nil, s.fail(fmt.Errorf("failed to ring peer: %w", err))
	}

	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, s.fail(fmt.Errorf("failed to create offer: %w", err))
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, s.fail(fmt.Errorf("failed to apply local description: %w", err))
	}
	if err := s.sendDescription(models.EventOffer, offer); err != nil {
		return nil, s.fail(err)
	}

	s.mu.Lock()
	s.state = StateNegotiatingLocal
	s.mu.Unlock()
	s.armNegotiationTimer()
	s.status("Ringing…")

	return s, nil
}

// Accept answers an inbound offer envelope: acquires media, applies the
// remote description and returns the answer through the relay.
func Accept(signaler Signaler, media MediaSource, offer *models.SignalEnvelope, opts Options) (*Session, error) {
	s := newSession(signaler, media, RoleResponder, offer.CallID, offer.From, opts)
	if s.callID == "" {
		s.callID = uuid.New().String()
	}

	s.status("Connecting…")
	if err := s.setup(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.state = StateAwaitingRemoteOffer
	s.mu.Unlock()

	// Tell the caller we picked up; delivered as call-accepted.
	if err := s.signaler.Send(&models.SignalEnvelope{
		Type:   models.EventAnswerCall,
		To:     s.peerID,
		CallID: s.callID,
	}); err != nil {
		return nil, s.fail(fmt.Errorf("failed to accept call: %w", err))
	}

	if err := s.applyRemoteOffer(offer); err != nil {
		return nil, err
	}
	s.armNegotiationTimer()

	return s, nil
}

// Reject declines an inbound offer without creating a session.
func Reject(signaler Signaler, offer *models.SignalEnvelope) error {
	return signaler.Send(&models.SignalEnvelope{
		Type:   models.EventRejectCall,
		To:     offer.From,
		CallID: offer.CallID,
	})
}

func newSession(signaler Signaler, media MediaSource, role Role, callID, peerID string, opts Options) *Session {
	if opts.NegotiationTimeout <= 0 {
		opts.NegotiationTimeout = defaultNegotiationTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{
		signaler: signaler,
		media:    media,
		opts:     opts,
		log:      log.With(zap.String("call_id", callID), zap.String("role", string(role))),
		callID:   callID,
		peerID:   peerID,
		role:     role,
		state:    StateIdle,
	}
	if sub, ok := signaler.(Subscriber); ok {
		s.unsubscribe = sub.Subscribe(s.HandleSignal)
	}
	return s
}

// setup acquires local media and builds the peer connection with its
// observers. Media acquisition failure is terminal for the attempt.
func (s *Session) setup() error {
	s.mu.Lock()
	s.state = StateAcquiringMedia
	s.mu.Unlock()

	tracks, err := s.media.Tracks()
	if err != nil {
		return s.fail(fmt.Errorf("failed to acquire local media: %w", err))
	}

	iceServers := []webrtc.ICEServer{}
	if len(s.opts.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: s.opts.STUNServers})
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return s.fail(fmt.Errorf("failed to create peer connection: %w", err))
	}

	for _, track := range tracks {
		if _, err := pc.AddTrack(track); err != nil {
			pc.Close()
			return s.fail(fmt.Errorf("failed to attach local track: %w", err))
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.sendCandidate(c.ToJSON())
	})
	pc.OnConnectionStateChange(s.handleConnectionState)
	pc.OnTrack(func(_ *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.mu.Lock()
		s.gotRemoteTrack = true
		s.mu.Unlock()
		s.maybeConnected()
	})

	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	return nil
}

// HandleSignal feeds one relayed envelope into the state machine. Envelopes
// for other calls are ignored.
func (s *Session) HandleSignal(env *models.SignalEnvelope) {
	if env.CallID != "" && env.CallID != s.callID {
		return
	}

	switch env.Type {
	case models.EventAnswer:
		if s.role != RoleInitiator {
			return
		}
		if err := s.applyRemoteAnswer(env); err != nil {
			s.log.Warn("failed to apply answer", zap.Error(err))
		}

	case models.EventICECandidate:
		if err := s.addRemoteCandidate(env); err != nil {
			s.fail(fmt.Errorf("failed to add remote candidate: %w", err))
		}

	case models.EventCallAccepted:
		s.status("Ringing…")

	case models.EventCallRejected:
		s.status("Disconnected")
		s.teardown("call rejected by peer", false)

	case models.EventCallEnded:
		s.status("Disconnected")
		s.teardown("call ended by peer", false)

	case models.EventUserDisconnected:
		// Presence notifications go to the whole room; only the peer's
		// own departure ends this call.
		var p models.PresencePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil || p.ConnectionID != s.peerID {
			return
		}
		s.status("Disconnected")
		s.teardown("peer disconnected", false)
	}
}

// Hangup ends the call locally and notifies the peer through the relay.
// Calling it on an already ended session is a no-op.
func (s *Session) Hangup() {
	s.mu.Lock()
	alreadyEnded := s.ended
	s.mu.Unlock()
	if alreadyEnded {
		return
	}
	s.status("Disconnected")
	s.teardown("hangup", true)
}

// applyRemoteOffer sets the remote offer, flushes queued candidates and
// sends back the answer. Responder only.
func (s *Session) applyRemoteOffer(env *models.SignalEnvelope) error {
	desc, err := decodeDescription(env)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(desc); err != nil {
		return s.fail(fmt.Errorf("failed to apply remote offer: %w", err))
	}
	if err := s.flushPendingCandidates(); err != nil {
		return s.fail(err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return s.fail(fmt.Errorf("failed to create answer: %w", err))
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return s.fail(fmt.Errorf("failed to apply local description: %w", err))
	}
	if err := s.sendDescription(models.EventAnswer, answer); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.state = StateNegotiatingRemote
	s.mu.Unlock()
	return nil
}

// applyRemoteAnswer sets the counterpart's answer and flushes queued
// candidates. Initiator only.
func (s *Session) applyRemoteAnswer(env *models.SignalEnvelope) error {
	desc, err := decodeDescription(env)
	if err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	pc := s.pc
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(desc); err != nil {
		return s.fail(fmt.Errorf("failed to apply remote answer: %w", err))
	}
	if err := s.flushPendingCandidates(); err != nil {
		return s.fail(err)
	}

	s.mu.Lock()
	s.state = StateNegotiatingRemote
	s.mu.Unlock()
	return nil
}

// addRemoteCandidate applies a trickled candidate, queueing it if the
// remote description has not been set yet. Early candidates are flushed
// once the description arrives instead of being dropped.
func (s *Session) addRemoteCandidate(env *models.SignalEnvelope) error {
	var payload models.ICECandidatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return fmt.Errorf("invalid ice-candidate payload: %w", err)
	}
	candidate := webrtc.ICECandidateInit{
		Candidate:        payload.Candidate,
		SDPMid:           payload.SDPMid,
		SDPMLineIndex:    payload.SDPMLineIndex,
		UsernameFragment: payload.UsernameFragment,
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, candidate)
		s.mu.Unlock()
		return nil
	}
	pc := s.pc
	s.mu.Unlock()

	return pc.AddICECandidate(candidate)
}

// flushPendingCandidates marks the remote description as set and applies
// every queued candidate in arrival order.
func (s *Session) flushPendingCandidates() error {
	s.mu.Lock()
	s.remoteSet = true
	queued := s.pending
	s.pending = nil
	pc := s.pc
	s.mu.Unlock()

	for _, candidate := range queued {
		if err := pc.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("failed to apply queued candidate: %w", err)
		}
	}
	return nil
}

func (s *Session) sendDescription(event models.EventType, desc webrtc.SessionDescription) error {
	payload, err := json.Marshal(models.SessionDescriptionPayload{
		Type: desc.Type.String(),
		SDP:  desc.SDP,
	})
	if err != nil {
		return fmt.Errorf("failed to encode description: %w", err)
	}
	if err := s.signaler.Send(&models.SignalEnvelope{
		Type:    event,
		To:      s.peerID,
		CallID:  s.callID,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("failed to send %s: %w", event, err)
	}
	return nil
}

func (s *Session) sendCandidate(candidate webrtc.ICECandidateInit) {
	payload, err := json.Marshal(models.ICECandidatePayload{
		Candidate:        candidate.Candidate,
		SDPMid:           candidate.SDPMid,
		SDPMLineIndex:    candidate.SDPMLineIndex,
		UsernameFragment: candidate.UsernameFragment,
	})
	if err != nil {
		s.log.Warn("failed to encode candidate", zap.Error(err))
		return
	}
	if err := s.signaler.Send(&models.SignalEnvelope{
		Type:    models.EventICECandidate,
		To:      s.peerID,
		CallID:  s.callID,
		Payload: payload,
	}); err != nil {
		s.log.Warn("failed to trickle candidate", zap.Error(err))
	}
}

func (s *Session) handleConnectionState(state webrtc.PeerConnectionState) {
	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		s.pcConnected = true
		s.mu.Unlock()
		s.maybeConnected()

	case webrtc.PeerConnectionStateDisconnected,
		webrtc.PeerConnectionStateFailed,
		webrtc.PeerConnectionStateClosed:
		s.mu.Lock()
		alreadyEnded := s.ended
		s.mu.Unlock()
		if alreadyEnded {
			return
		}
		s.status("Disconnected")
		s.teardown("connection "+state.String(), false)
	}
}

// maybeConnected transitions to Connected once the transport reports
// connected and the first remote track has been observed.
func (s *Session) maybeConnected() {
	s.mu.Lock()
	if s.ended || s.state == StateConnected || !s.pcConnected || !s.gotRemoteTrack {
		s.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.startedAt = time.Now()
	timer := s.negotiation
	s.negotiation = nil
	stop := make(chan struct{})
	s.tickerStop = stop
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	s.status("Connected")
	go s.runDurationTicker(stop)
}

// runDurationTicker reports elapsed call time every second until teardown.
func (s *Session) runDurationTicker(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.opts.OnDuration != nil {
				s.opts.OnDuration(s.Duration())
			}
		case <-stop:
			return
		}
	}
}

func (s *Session) armNegotiationTimer() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.negotiation = time.AfterFunc(s.opts.NegotiationTimeout, func() {
		s.status("Error: negotiation timed out")
		s.teardown("negotiation timed out", false)
	})
	s.mu.Unlock()
}

// fail surfaces an error status and tears the session down. It always
// returns the error so callers can propagate it.
func (s *Session) fail(err error) error {
	s.status("Error: " + err.Error())
	s.teardown(err.Error(), false)
	return err
}

// teardown is the single exit routine. It stops local media, closes the
// peer connection, cancels timers, unsubscribes from signaling and, for a
// local hangup only, notifies the relay. Safe to call from any trigger and
// any number of times; only the first call has an effect.
func (s *Session) teardown(reason string, notifyPeer bool) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.state = StateEnded
	pc := s.pc
	s.pc = nil
	timer := s.negotiation
	s.negotiation = nil
	tickerStop := s.tickerStop
	s.tickerStop = nil
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.pending = nil
	s.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if tickerStop != nil {
		close(tickerStop)
	}
	if unsubscribe != nil {
		unsubscribe()
	}

	if notifyPeer {
		if err := s.signaler.Send(&models.SignalEnvelope{
			Type:   models.EventEndCall,
			To:     s.peerID,
			CallID: s.callID,
		}); err != nil {
			s.log.Warn("failed to notify peer of hangup", zap.Error(err))
		}
	}

	if err := s.media.Close(); err != nil {
		s.log.Warn("failed to release media", zap.Error(err))
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			s.log.Warn("failed to close peer connection", zap.Error(err))
		}
	}

	s.log.Info("session ended", zap.String("reason", reason))
	if s.opts.OnEnded != nil {
		s.opts.OnEnded(reason)
	}
}

func (s *Session) status(text string) {
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(text)
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallID returns the id correlating this call's envelopes.
func (s *Session) CallID() string { return s.callID }

// PeerID returns the remote connection id.
func (s *Session) PeerID() string { return s.peerID }

// Role returns whether this side initiated the call.
func (s *Session) Role() Role { return s.role }

// Duration returns elapsed connected time, zero before Connected.
func (s *Session) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

func decodeDescription(env *models.SignalEnvelope) (webrtc.SessionDescription, error) {
	var payload models.SessionDescriptionPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("invalid session description payload: %w", err)
	}
	return webrtc.SessionDescription{
		Type: webrtc.NewSDPType(payload.Type),
		SDP:  payload.SDP,
	}, nil
}
