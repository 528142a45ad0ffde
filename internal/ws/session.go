package ws

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/voice-session-gateway/internal/audio"
	"github.com/hubenschmidt/voice-session-gateway/internal/bargein"
	"github.com/hubenschmidt/voice-session-gateway/internal/endpointing"
	"github.com/hubenschmidt/voice-session-gateway/internal/metrics"
	"github.com/hubenschmidt/voice-session-gateway/internal/pipeline"
	"github.com/hubenschmidt/voice-session-gateway/internal/prompts"
	"github.com/hubenschmidt/voice-session-gateway/internal/protocol"
	"github.com/hubenschmidt/voice-session-gateway/internal/resilience"
	"github.com/hubenschmidt/voice-session-gateway/internal/session"
	"github.com/hubenschmidt/voice-session-gateway/internal/trace"
	"github.com/hubenschmidt/voice-session-gateway/internal/twopass"
)

type frame struct {
	msgType int
	data    []byte
}

// runner drives one session. Everything except the synthesis task runs on
// the goroutine that calls run.
type runner struct {
	h      *Handler
	conn   *websocket.Conn
	sess   *session.Session
	out    *sender
	vad    *audio.VAD
	tracer *trace.Tracer
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func newRunner(h *Handler, conn *websocket.Conn) *runner {
	sess := session.New(h.cfg.MaxHistoryTurns)
	ctx, cancel := context.WithCancel(context.Background())
	logger := h.logger.With("session_id", sess.ID)
	return &runner{
		h:      h,
		conn:   conn,
		sess:   sess,
		out:    newSender(conn, sess.ID, h.cfg.Publisher),
		vad:    audio.NewVAD(h.cfg.VAD),
		tracer: trace.NewTracer(h.cfg.TraceStore, sess.ID, h.cfg.Metadata, logger),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (r *runner) run() {
	r.h.cfg.Metrics.SessionOpened()
	r.logger.Info("session started")
	defer r.teardown()

	frames := make(chan frame)
	go r.readLoop(frames)

	for f := range frames {
		if err := r.handleSafely(f); err != nil {
			r.logger.Error("session failed", "error", err)
			r.sendError(uuid.NewString(), protocol.StageSession, protocol.CodeInternalError, err.Error())
			return
		}
	}
}

// readLoop feeds frames to the session loop and cancels the session context
// as soon as the client goes away, so in-flight stage calls stop early. The
// synthesis task is not tied to that context; teardown interrupts it.
func (r *runner) readLoop(frames chan<- frame) {
	defer close(frames)
	for {
		msgType, data, err := r.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				r.logger.Info("connection closed", "error", err)
			}
			r.cancel()
			return
		}
		select {
		case frames <- frame{msgType: msgType, data: data}:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *runner) teardown() {
	if segmentID, ok := r.sess.Synthesis.Interrupt(); ok {
		r.reportInterrupt(segmentID, bargein.ReasonSessionClose, uuid.NewString())
	}
	r.cancel()
	if r.h.cfg.TwoPass != nil {
		r.h.cfg.TwoPass.Reset(r.sess.ID)
	}
	for _, c := range r.h.closers {
		c.CloseSession(r.sess.ID)
	}
	r.h.cfg.Metrics.SessionClosed()
	r.tracer.Close()
	r.conn.Close()
	r.logger.Info("session ended", "duration_ms", r.sess.ElapsedMs())
}

// handleSafely converts a panic in frame handling into an error.
func (r *runner) handleSafely(f frame) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic in session loop", "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.handle(f)
}

func (r *runner) handle(f frame) error {
	traceID := uuid.NewString()
	switch f.msgType {
	case websocket.BinaryMessage:
		r.handleAudio(f.data, traceID)
	case websocket.TextMessage:
		r.handleControl(f.data, traceID)
	default:
		r.sendError(traceID, protocol.StageTransport, protocol.CodeUnsupportedMessage, "unsupported frame type")
	}
	return nil
}

func (r *runner) handleControl(data []byte, traceID string) {
	ctrl, err := r.h.cfg.Control.Parse(data)
	if err != nil {
		r.sendError(traceID, protocol.StageTransport, protocol.CodeUnsupportedMessage, err.Error())
		return
	}
	if ctrl.State != protocol.StateStop {
		return
	}

	dec, ok := r.h.engine.Stop(r.sess.Endpointing, r.sess.Buffer, r.sess.ElapsedMs())
	if !ok {
		r.sess.EndSegment()
		return
	}
	if r.sess.SegmentID == "" {
		r.sess.NextSegmentID()
	}
	r.finalize(dec, traceID)
}

func (r *runner) handleAudio(data []byte, traceID string) {
	samples, err := audio.DecodePCM16(data)
	if err != nil {
		r.sendError(traceID, protocol.StageDecode, protocol.CodeDecodeFail, err.Error())
		return
	}
	metrics.AudioChunks.Inc()

	f := audio.Preprocess(samples)
	kind := audio.Classify(f)
	inSegment := r.sess.Endpointing.InSpeech
	if kind == audio.NonSpeech && !inSegment {
		return
	}

	chunkMs := audio.DurationMs(len(samples), r.h.cfg.SampleRate)
	speech := kind == audio.Speech && audio.Acceptable(f) && r.vad.IsSpeech(f.Samples)
	dec := r.h.engine.Process(r.sess.Endpointing, r.sess.Buffer, f.Samples, speech, chunkMs, r.sess.ElapsedMs(), f.RMS)

	if !inSegment && (dec.InSpeech || dec.ShouldFinalize) {
		r.sess.NextSegmentID()
		r.interrupt(bargein.ReasonUserSpeech, traceID)
	}

	switch {
	case dec.ShouldFinalize:
		r.finalize(dec, traceID)
	case dec.InSpeech:
		r.partial(dec, traceID)
	}
}

func (r *runner) partial(dec endpointing.Decision, traceID string) {
	snapshot := r.sess.Buffer.Snapshot()
	res := resilience.Run(r.ctx, r.h.cfg.Executor, resilience.StageASR, func(ctx context.Context) (string, error) {
		return r.h.cfg.Recognizer.DecodePartial(ctx, r.sess.ID, snapshot)
	})
	if res.Canceled {
		return
	}
	if res.Err != nil {
		r.sendStageError(traceID, res.Err)
		return
	}

	text := r.h.cfg.Stabilizer.Stabilize(r.sess.Transcript.LastPartial, r.h.cfg.PostProcess.Partial(res.Value))
	if text == "" || text == r.sess.Transcript.LastPartial {
		return
	}
	err := r.out.send(protocol.Transcript{
		Type:      protocol.TypeSTT,
		State:     protocol.StatePartial,
		Text:      text,
		SegmentID: r.sess.SegmentID,
		SessionID: r.sess.ID,
		StartMs:   dec.SegmentStartMs,
		EndMs:     dec.SegmentEndMs,
		TraceID:   traceID,
		LatencyMs: res.Latency.Milliseconds(),
	})
	if err != nil {
		return
	}
	r.sess.Transcript.LastPartial = text
	r.sess.Transcript.LastPartialSentAtMs = r.sess.ElapsedMs()
	r.h.cfg.Metrics.Partial()
}

// finalize runs recognition, refinement and reply generation for a closed
// segment, then hands the reply to a synthesis task.
func (r *runner) finalize(dec endpointing.Decision, traceID string) {
	segmentID := r.sess.SegmentID
	defer r.sess.EndSegment()

	started := time.Now()
	metrics.SegmentDuration.Observe(float64(dec.SegmentDurationMs) / 1000)
	runID := r.tracer.StartRun(segmentID, string(dec.FinalReason))

	asr := resilience.Run(r.ctx, r.h.cfg.Executor, resilience.StageASR, func(ctx context.Context) (string, error) {
		return r.h.cfg.Recognizer.DecodeFinal(ctx, r.sess.ID, dec.Samples)
	})
	r.recordSpan(runID, "asr", asr.Latency, asr.Attempts, "", asr.Value, asr.Err)
	if !asr.OK() {
		if asr.Err != nil {
			r.sendStageError(traceID, asr.Err)
		}
		r.tracer.EndRun(runID, time.Since(started), "", "", trace.StatusError)
		return
	}
	text := r.h.cfg.PostProcess.Final(asr.Value)

	if tp := r.h.cfg.TwoPass; tp != nil && tp.Eligible(dec.SegmentDurationMs, text) {
		refineStart := time.Now()
		refined := tp.Refine(r.ctx, r.sess.ID, twopass.Segment{
			ID:         segmentID,
			Text:       text,
			Samples:    dec.Samples,
			DurationMs: dec.SegmentDurationMs,
		})
		r.recordSpan(runID, "twopass", time.Since(refineStart), 1, text, refined, nil)
		text = refined
	}

	if strings.TrimSpace(text) == "" {
		r.tracer.EndRun(runID, time.Since(started), "", "", trace.StatusEmpty)
		return
	}

	err := r.out.send(protocol.Transcript{
		Type:        protocol.TypeSTT,
		State:       protocol.StateFinal,
		Text:        text,
		SegmentID:   segmentID,
		SessionID:   r.sess.ID,
		StartMs:     dec.SegmentStartMs,
		EndMs:       dec.SegmentEndMs,
		TraceID:     traceID,
		LatencyMs:   asr.Latency.Milliseconds(),
		FinalReason: string(dec.FinalReason),
	})
	if err != nil {
		return
	}
	r.h.cfg.Metrics.Final()
	r.sess.AddUserTurn(text)

	reply, ok := r.reply(runID, segmentID, traceID, text)
	if !ok {
		r.tracer.EndRun(runID, time.Since(started), text, "", trace.StatusError)
		return
	}
	if err = r.out.send(protocol.AgentResponse{
		Type:      protocol.TypeAgent,
		State:     protocol.StateResponse,
		Text:      reply,
		SessionID: r.sess.ID,
		SegmentID: segmentID,
	}); err != nil {
		return
	}
	r.sess.AddAssistantTurn(reply)

	r.sess.Synthesis.Start(context.WithoutCancel(r.ctx), segmentID, func(ctx context.Context) {
		defer r.recoverTask(segmentID)
		r.synthesize(ctx, synthesisJob{
			runID:     runID,
			segmentID: segmentID,
			traceID:   traceID,
			text:      text,
			reply:     reply,
			started:   started,
		})
	})
}

// reply asks the agent for an answer, substituting the fallback text on
// failure when enabled. ok is false when nothing should be spoken.
func (r *runner) reply(runID, segmentID, traceID, text string) (string, bool) {
	req := pipeline.AgentRequest{
		SessionID:    r.sess.ID,
		SystemPrompt: prompts.ForSession(r.h.cfg.SystemPrompt),
		History:      r.sess.HistoryWindow(r.h.cfg.MaxHistoryTurns),
		UserText:     text,
	}
	res := resilience.Run(r.ctx, r.h.cfg.Executor, resilience.StageAgent, func(ctx context.Context) (string, error) {
		return r.h.cfg.Agent.Reply(ctx, req)
	})
	r.recordSpan(runID, "agent", res.Latency, res.Attempts, text, res.Value, res.Err)
	if res.Canceled {
		return "", false
	}
	if res.Err == nil {
		return res.Value, true
	}

	r.sendStageError(traceID, res.Err)
	if !r.h.cfg.FallbackEnabled {
		return "", false
	}
	r.logger.Info("using fallback reply", "segment_id", segmentID)
	return prompts.Fallback(r.h.cfg.FallbackText), true
}

// recoverTask turns a panic in the synthesis task into an INTERNAL_ERROR and
// ends the session the same way a panic in the session loop does.
func (r *runner) recoverTask(segmentID string) {
	rec := recover()
	if rec == nil {
		return
	}
	r.logger.Error("panic in synthesis task", "segment_id", segmentID, "panic", rec, "stack", string(debug.Stack()))
	r.sendError(uuid.NewString(), protocol.StageSession, protocol.CodeInternalError, fmt.Sprintf("panic: %v", rec))
	r.cancel()
	r.conn.Close()
}

type synthesisJob struct {
	runID     string
	segmentID string
	traceID   string
	text      string
	reply     string
	started   time.Time
}

// synthesize runs as the session's barge-in task. Every write checks ctx so
// an interrupted task goes silent immediately.
func (r *runner) synthesize(ctx context.Context, job synthesisJob) {
	rate := r.h.cfg.TTSSampleRate
	meta := func(state string, seq int) protocol.Synthesis {
		return protocol.NewSynthesis(state, r.sess.ID, job.segmentID, job.traceID, rate, seq)
	}

	if err := r.out.sendTask(ctx, meta(protocol.StateStart, 0)); err != nil {
		r.endSynthesisRun(job, trace.StatusInterrupted)
		return
	}

	seq := 0
	req := pipeline.SynthesisRequest{
		SessionID:  r.sess.ID,
		Text:       job.reply,
		SampleRate: rate,
		ChunkMs:    r.h.cfg.TTSChunkMs,
	}
	res := resilience.Run(ctx, r.h.cfg.Executor, resilience.StageTTS, func(actx context.Context) (int, error) {
		chunks, errs := r.h.cfg.Synthesizer.Synthesize(actx, req)
		for pcm := range chunks {
			seq++
			if seq == 1 {
				metrics.FirstAudioDuration.Observe(time.Since(job.started).Seconds())
			}
			if err := r.out.sendAudio(ctx, pcm, meta(protocol.StateChunk, seq)); err != nil {
				return seq, resilience.Permanent(err)
			}
		}
		if err := <-errs; err != nil {
			if seq > 0 {
				// audio already reached the client; a retry would repeat it
				return seq, resilience.Permanent(err)
			}
			return seq, err
		}
		return seq, nil
	})
	r.recordSpan(job.runID, "tts", res.Latency, res.Attempts, job.reply, fmt.Sprintf("%d chunks", seq), res.Err)

	if res.Canceled {
		r.endSynthesisRun(job, trace.StatusInterrupted)
		return
	}
	status := trace.StatusOK
	if res.Err != nil {
		status = trace.StatusError
		r.sendStageErrorTask(ctx, job.traceID, res.Err)
	}
	if err := r.out.sendTask(ctx, meta(protocol.StateStop, seq)); err != nil && status == trace.StatusOK {
		status = trace.StatusInterrupted
	}
	r.endSynthesisRun(job, status)
}

func (r *runner) endSynthesisRun(job synthesisJob, status string) {
	r.tracer.EndRun(job.runID, time.Since(job.started), job.text, job.reply, status)
}

// interrupt cancels the active synthesis task and reports it.
func (r *runner) interrupt(reason bargein.Reason, traceID string) {
	if segmentID, ok := r.sess.Synthesis.Interrupt(); ok {
		r.reportInterrupt(segmentID, reason, traceID)
	}
}

func (r *runner) reportInterrupt(segmentID string, reason bargein.Reason, traceID string) {
	r.h.cfg.Metrics.Interrupt(string(reason))
	r.logger.Info("synthesis interrupted", "segment_id", segmentID, "reason", reason)
	r.out.send(protocol.Interrupt{
		Type:      protocol.TypeInterrupt,
		State:     protocol.StateStop,
		SessionID: r.sess.ID,
		SegmentID: segmentID,
		Reason:    string(reason),
		AtMs:      r.sess.ElapsedMs(),
		TraceID:   traceID,
	})
}

func (r *runner) sendError(traceID, stage, code, detail string) {
	r.h.cfg.Metrics.Error(stage, code)
	r.out.send(protocol.NewError(r.sess.ID, traceID, stage, code, detail))
}

func (r *runner) sendStageError(traceID string, err *resilience.StageError) {
	r.sendStageErrorTask(context.Background(), traceID, err)
}

func (r *runner) sendStageErrorTask(ctx context.Context, traceID string, err *resilience.StageError) {
	stage, code := string(err.Stage), err.Code()
	r.h.cfg.Metrics.Error(stage, code)
	r.out.sendTask(ctx, protocol.NewError(r.sess.ID, traceID, stage, code, err.Error()))
}

func (r *runner) recordSpan(runID, name string, latency time.Duration, attempts int, input, output string, stageErr *resilience.StageError) {
	sp := trace.Span{
		Name:       name,
		StartedAt:  time.Now().Add(-latency),
		DurationMs: float64(latency.Microseconds()) / 1000,
		Attempts:   attempts,
		Input:      input,
		Output:     output,
		Status:     trace.StatusOK,
	}
	if stageErr != nil {
		sp.Status = trace.StatusError
		sp.Error = stageErr.Error()
	}
	r.tracer.RecordSpan(runID, sp)
}
