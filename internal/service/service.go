// Package service exposes synthesis over the NATS bus: request/reply on the
// synthesize subject, plus a completion notice for observers.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/ttsmate/ttsmate-core/internal/bus"
	"github.com/ttsmate/ttsmate-core/internal/history"
	"github.com/ttsmate/ttsmate-core/internal/protocol"
	"github.com/ttsmate/ttsmate-core/internal/synth"
)

// requestTimeout bounds one bus-initiated synthesis end to end.
const requestTimeout = 90 * time.Second

type Service struct {
	bus     *bus.Client
	synth   *synth.Client
	journal *history.Store
	sub     *nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewService(parent context.Context, busClient *bus.Client, client *synth.Client, journal *history.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:     busClient,
		synth:   client,
		journal: journal,
		ctx:     ctx,
		cancel:  cancel,
		logger:  log.With(slog.String("component", "synthesize-service")),
	}
}

func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectSynthesize, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.bus == nil || s.sub != nil }

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.SynthesizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode synthesize request", slogError(err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.ctx, requestTimeout)
		defer cancel()

		start := time.Now()
		buf, cacheHit, err := s.synth.Synthesize(ctx, synth.Request{
			Text:   req.Text,
			Voice:  req.Voice,
			Speed:  req.Speed,
			Pitch:  req.Pitch,
			Volume: req.Volume,
			Format: synth.Format(req.Format),
		})
		elapsed := time.Since(start)

		reply := protocol.SynthesizeReply{RequestID: req.RequestID}
		if err != nil {
			s.logger.Warn("synthesis failed",
				slog.String("request_id", req.RequestID),
				slogError(err))
			reply.Error = err.Error()
		} else {
			reply.Audio = buf.Bytes
			reply.Format = string(buf.Format)
			reply.SampleRate = buf.SampleRate
			reply.DurationMS = buf.Duration.Milliseconds()
		}

		if msg.Reply != "" {
			s.respond(msg.Reply, reply)
		}
		s.publishStatus(req, elapsed, err != nil)
		s.record(ctx, req, buf, cacheHit, elapsed, err)
	}()
}

func (s *Service) respond(subject string, reply protocol.SynthesizeReply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Warn("failed to marshal synthesize reply", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.logger.Warn("failed to publish synthesize reply", slogError(err))
	}
}

func (s *Service) publishStatus(req protocol.SynthesizeRequest, elapsed time.Duration, failed bool) {
	status := protocol.SynthesizeStatus{
		RequestID:  req.RequestID,
		Voice:      req.Voice,
		TextChars:  len(req.Text),
		DurationMS: elapsed.Milliseconds(),
		Failed:     failed,
		Timestamp:  time.Now().UTC(),
	}
	if data, err := json.Marshal(status); err == nil {
		_ = s.bus.Conn().Publish(protocol.SubjectSynthesizeDone, data)
	}
}

func (s *Service) record(ctx context.Context, req protocol.SynthesizeRequest, buf synth.AudioBuffer, cacheHit bool, elapsed time.Duration, synthErr error) {
	if s.journal == nil || synthErr != nil {
		return
	}
	rec := history.Record{
		ID:          req.RequestID,
		Fingerprint: synth.Fingerprint(synth.Request{Text: req.Text, Voice: req.Voice, Speed: req.Speed, Pitch: req.Pitch, Volume: req.Volume}),
		Voice:       req.Voice,
		TextChars:   len(req.Text),
		CacheHit:    cacheHit,
		Duration:    elapsed,
		SizeBytes:   len(buf.Bytes),
	}
	if err := s.journal.Append(ctx, rec); err != nil {
		s.logger.Warn("failed to record synthesis", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
