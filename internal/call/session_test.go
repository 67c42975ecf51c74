package call

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wellport/signaling/internal/models"
)

// fakeSignaler captures envelopes instead of sending them to a relay.
type fakeSignaler struct {
	mu   sync.Mutex
	sent []*models.SignalEnvelope
}

func (f *fakeSignaler) Send(env *models.SignalEnvelope) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, env)
	return nil
}

func (f *fakeSignaler) byType(t models.EventType) []*models.SignalEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.SignalEnvelope
	for _, env := range f.sent {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

// fakeMedia produces a real static track, optionally failing acquisition.
type fakeMedia struct {
	mu          sync.Mutex
	failAcquire bool
	closeCount  int
}

func (f *fakeMedia) Tracks() ([]webrtc.TrackLocal, error) {
	if f.failAcquire {
		return nil, errors.New("camera unavailable")
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "test-audio")
	if err != nil {
		return nil, err
	}
	return []webrtc.TrackLocal{track}, nil
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return nil
}

func (f *fakeMedia) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func dialSession(t *testing.T, sig *fakeSignaler, media *fakeMedia, opts Options) *Session {
	t.Helper()
	s, err := Dial(sig, media, "peer-1", opts)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { s.teardown("test cleanup", false) })
	return s
}

func TestDialSendsRingThenOffer(t *testing.T) {
	sig := &fakeSignaler{}
	s := dialSession(t, sig, &fakeMedia{}, Options{})

	rings := sig.byType(models.EventCallUser)
	if len(rings) != 1 || rings[0].To != "peer-1" {
		t.Fatalf("ring envelopes = %+v, want one to peer-1", rings)
	}
	offers := sig.byType(models.EventOffer)
	if len(offers) != 1 {
		t.Fatalf("offer envelopes = %d, want 1", len(offers))
	}
	if offers[0].CallID != s.CallID() || offers[0].CallID == "" {
		t.Fatalf("offer callId = %q, want session call id %q", offers[0].CallID, s.CallID())
	}
	if len(offers[0].Payload) == 0 {
		t.Fatal("offer has no SDP payload")
	}
	if got := s.State(); got != StateNegotiatingLocal {
		t.Fatalf("state = %s, want negotiating-local", got)
	}
}

func TestMediaAcquisitionFailureIsTerminal(t *testing.T) {
	sig := &fakeSignaler{}
	var statuses []string
	_, err := Dial(sig, &fakeMedia{failAcquire: true}, "peer-1", Options{
		OnStatus: func(s string) { statuses = append(statuses, s) },
	})
	if err == nil {
		t.Fatal("Dial succeeded with failing media source")
	}
	if len(sig.byType(models.EventOffer)) != 0 {
		t.Fatal("offer sent despite media failure")
	}

	var sawError bool
	for _, st := range statuses {
		if strings.HasPrefix(st, "Error: ") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("statuses = %v, want an Error status", statuses)
	}
}

// handshake dials from A, accepts on B and returns both sessions plus the
// signalers carrying their envelopes. The answer is NOT yet applied to A.
func handshake(t *testing.T) (a, b *Session, sigA, sigB *fakeSignaler) {
	t.Helper()
	sigA = &fakeSignaler{}
	sigB = &fakeSignaler{}

	a = dialSession(t, sigA, &fakeMedia{}, Options{})

	offers := sigA.byType(models.EventOffer)
	if len(offers) != 1 {
		t.Fatalf("offers = %d, want 1", len(offers))
	}
	offer := *offers[0]
	offer.From = "conn-a"

	var err error
	b, err = Accept(sigB, &fakeMedia{}, &offer, Options{})
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	t.Cleanup(func() { b.teardown("test cleanup", false) })
	return a, b, sigA, sigB
}

func TestAcceptAnswersOffer(t *testing.T) {
	_, b, _, sigB := handshake(t)

	if len(sigB.byType(models.EventAnswerCall)) != 1 {
		t.Fatal("responder did not send answer-call")
	}
	answers := sigB.byType(models.EventAnswer)
	if len(answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(answers))
	}
	if answers[0].CallID != b.CallID() {
		t.Fatalf("answer callId = %q, want %q", answers[0].CallID, b.CallID())
	}
	if got := b.State(); got != StateNegotiatingRemote {
		t.Fatalf("state = %s, want negotiating-remote", got)
	}
	if b.Role() != RoleResponder {
		t.Fatalf("role = %s, want responder", b.Role())
	}
}

func TestEarlyCandidatesQueuedAndFlushed(t *testing.T) {
	a, _, _, sigB := handshake(t)

	// Wait for the responder's ICE gathering to trickle at least one
	// candidate; host candidates appear quickly without a network.
	var candidates []*models.SignalEnvelope
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		candidates = sigB.byType(models.EventICECandidate)
		if len(candidates) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if len(candidates) == 0 {
		t.Skip("no host candidates gathered in this environment")
	}

	// Deliver a candidate to the initiator before its remote description.
	early := *candidates[0]
	early.CallID = a.CallID()
	a.HandleSignal(&early)

	a.mu.Lock()
	queued := len(a.pending)
	a.mu.Unlock()
	if queued != 1 {
		t.Fatalf("pending candidates = %d, want 1 (queued, not applied)", queued)
	}

	// Now deliver the answer; the queue must flush without error.
	answers := sigB.byType(models.EventAnswer)
	ans := *answers[0]
	ans.CallID = a.CallID()
	a.HandleSignal(&ans)

	a.mu.Lock()
	queued = len(a.pending)
	remoteSet := a.remoteSet
	a.mu.Unlock()
	if queued != 0 || !remoteSet {
		t.Fatalf("after answer: pending=%d remoteSet=%v, want 0/true", queued, remoteSet)
	}
	if got := a.State(); got != StateNegotiatingRemote {
		t.Fatalf("state = %s, want negotiating-remote", got)
	}
}

func TestTeardownConvergence(t *testing.T) {
	triggers := []struct {
		name      string
		fire      func(s *Session)
		wantNotif bool
	}{
		{"user hangup", func(s *Session) { s.Hangup() }, true},
		{"remote hangup", func(s *Session) {
			s.HandleSignal(&models.SignalEnvelope{Type: models.EventCallEnded, CallID: s.CallID()})
		}, false},
		{"abnormal connection state", func(s *Session) {
			s.handleConnectionState(webrtc.PeerConnectionStateFailed)
		}, false},
	}

	for _, tc := range triggers {
		t.Run(tc.name, func(t *testing.T) {
			sig := &fakeSignaler{}
			media := &fakeMedia{}
			var endedReasons []string
			var mu sync.Mutex
			s := dialSession(t, sig, media, Options{
				OnEnded: func(reason string) {
					mu.Lock()
					endedReasons = append(endedReasons, reason)
					mu.Unlock()
				},
			})

			tc.fire(s)

			if got := s.State(); got != StateEnded {
				t.Fatalf("state = %s, want ended", got)
			}
			if media.closed() != 1 {
				t.Fatalf("media closed %d times, want 1", media.closed())
			}
			mu.Lock()
			ended := len(endedReasons)
			mu.Unlock()
			if ended != 1 {
				t.Fatalf("OnEnded fired %d times, want 1", ended)
			}
			notifs := sig.byType(models.EventEndCall)
			if tc.wantNotif && len(notifs) != 1 {
				t.Fatalf("end-call envelopes = %d, want 1", len(notifs))
			}
			if !tc.wantNotif && len(notifs) != 0 {
				t.Fatalf("end-call envelopes = %d, want 0 for %s", len(notifs), tc.name)
			}
		})
	}
}

func TestHangupIsIdempotent(t *testing.T) {
	sig := &fakeSignaler{}
	media := &fakeMedia{}
	endedCount := 0
	s := dialSession(t, sig, media, Options{
		OnEnded: func(string) { endedCount++ },
	})

	s.Hangup()
	s.Hangup()

	if got := len(sig.byType(models.EventEndCall)); got != 1 {
		t.Fatalf("end-call envelopes = %d, want exactly 1", got)
	}
	if media.closed() != 1 {
		t.Fatalf("media closed %d times, want 1", media.closed())
	}
	if endedCount != 1 {
		t.Fatalf("OnEnded fired %d times, want 1", endedCount)
	}
}

func TestNegotiationTimeoutEndsSession(t *testing.T) {
	sig := &fakeSignaler{}
	endedCh := make(chan string, 1)
	s := dialSession(t, sig, &fakeMedia{}, Options{
		NegotiationTimeout: 50 * time.Millisecond,
		OnEnded:            func(reason string) { endedCh <- reason },
	})

	select {
	case reason := <-endedCh:
		if !strings.Contains(reason, "timed out") {
			t.Fatalf("end reason = %q, want a timeout", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("session never timed out")
	}
	if got := s.State(); got != StateEnded {
		t.Fatalf("state = %s, want ended", got)
	}
}

func TestOnlyPeerDisconnectEndsCall(t *testing.T) {
	sig := &fakeSignaler{}
	s := dialSession(t, sig, &fakeMedia{}, Options{})

	// A third room member leaving must not touch the call.
	payload, _ := json.Marshal(models.PresencePayload{ConnectionID: "bystander-7"})
	s.HandleSignal(&models.SignalEnvelope{Type: models.EventUserDisconnected, Payload: payload})
	if got := s.State(); got == StateEnded {
		t.Fatal("bystander disconnect ended the session")
	}

	payload, _ = json.Marshal(models.PresencePayload{ConnectionID: "peer-1"})
	s.HandleSignal(&models.SignalEnvelope{Type: models.EventUserDisconnected, Payload: payload})
	if got := s.State(); got != StateEnded {
		t.Fatalf("state = %s, want ended after the peer disconnected", got)
	}
}

func TestEnvelopesForOtherCallsIgnored(t *testing.T) {
	sig := &fakeSignaler{}
	s := dialSession(t, sig, &fakeMedia{}, Options{})

	s.HandleSignal(&models.SignalEnvelope{Type: models.EventCallEnded, CallID: "some-other-call"})

	if got := s.State(); got == StateEnded {
		t.Fatal("envelope for another call ended this session")
	}
}

func TestRejectSendsRejectCall(t *testing.T) {
	sig := &fakeSignaler{}
	offer := &models.SignalEnvelope{Type: models.EventOffer, From: "conn-a", CallID: "call-9"}
	if err := Reject(sig, offer); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	rejects := sig.byType(models.EventRejectCall)
	if len(rejects) != 1 || rejects[0].To != "conn-a" || rejects[0].CallID != "call-9" {
		t.Fatalf("reject envelopes = %+v, want one to conn-a for call-9", rejects)
	}
}
